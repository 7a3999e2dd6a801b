package entity

// Description is the catalog entry of a template.
type Description struct {
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

// Describer resolves template ids to names and prices. Decoding never uses
// it; world state and presentation do.
type Describer interface {
	Describe(templateID string) (Description, bool)
}

// DescriberFunc adapts a function to Describer.
type DescriberFunc func(templateID string) (Description, bool)

func (f DescriberFunc) Describe(templateID string) (Description, bool) {
	return f(templateID)
}

// StaticDescriber is an in-memory catalog.
type StaticDescriber map[string]Description

func (s StaticDescriber) Describe(templateID string) (Description, bool) {
	d, ok := s[templateID]
	return d, ok
}
