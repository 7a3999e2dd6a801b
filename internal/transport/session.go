package transport

// Sessions is the set of session ids seen in a heartbeat or init packet.
type Sessions struct {
	trusted map[uint16]struct{}
	current uint16
	started bool
}

func NewSessions() *Sessions {
	return &Sessions{trusted: make(map[uint16]struct{})}
}

// Trust marks id as trusted.
func (s *Sessions) Trust(id uint16) {
	s.trusted[id] = struct{}{}
}

func (s *Sessions) Trusted(id uint16) bool {
	_, ok := s.trusted[id]
	return ok
}

// Start forgets every trusted id and makes id the current trusted session.
func (s *Sessions) Start(id uint16) {
	s.trusted = make(map[uint16]struct{})
	s.trusted[id] = struct{}{}
	s.current = id
	s.started = true
}

// Current returns the id of the last started session.
func (s *Sessions) Current() (uint16, bool) {
	return s.current, s.started
}

func (s *Sessions) Len() int {
	return len(s.trusted)
}
