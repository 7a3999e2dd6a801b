package world

import (
	"github.com/raidscope/raidscope/internal/entity"
)

// Node is one item of the arena. Trees are linked by id: a node knows its
// parent and its direct children, and a root knows its owner.
type Node struct {
	ID         string
	TemplateID string
	StackCount uint32
	ParentID   string
	Container  string
	Kind       entity.AddressKind
	Location   *entity.Location
	Children   []string
	Owner      string
}

// IsRoot reports whether the node has no parent.
func (n *Node) IsRoot() bool { return n.ParentID == "" }

// Items is the arena of every item tree currently in the world.
type Items struct {
	nodes map[string]*Node
}

func NewItems() *Items {
	return &Items{nodes: make(map[string]*Node)}
}

func (a *Items) Len() int { return len(a.nodes) }

func (a *Items) Get(id string) (*Node, bool) {
	n, ok := a.nodes[id]
	return n, ok
}

// Register flattens a decoded tree into the arena with owner recorded on the
// root. An id that is already present has its old subtree removed first.
// It returns the number of nodes added.
func (a *Items) Register(root *entity.Item, owner string) int {
	if root == nil {
		return 0
	}
	n := a.add(root, "", entity.AddrOwner, "", nil)
	a.nodes[root.ID].Owner = owner
	return n
}

func (a *Items) add(it *entity.Item, parent string, kind entity.AddressKind, container string, loc *entity.Location) int {
	if _, dup := a.nodes[it.ID]; dup {
		a.RemoveSubtree(it.ID)
	}
	node := &Node{
		ID:         it.ID,
		TemplateID: it.TemplateID,
		StackCount: it.StackCount,
		ParentID:   parent,
		Container:  container,
		Kind:       kind,
	}
	if loc != nil {
		l := *loc
		node.Location = &l
	}
	a.nodes[it.ID] = node
	count := 1
	for _, c := range it.Children() {
		count += a.add(c.Item, it.ID, c.Kind, c.Container, c.Location)
		node.Children = append(node.Children, c.Item.ID)
	}
	return count
}

// RemoveSubtree deletes id and all its descendants and unlinks id from its
// parent. It returns the number of nodes removed.
func (a *Items) RemoveSubtree(id string) int {
	n, ok := a.nodes[id]
	if !ok {
		return 0
	}
	a.detach(n)
	return a.remove(n)
}

func (a *Items) remove(n *Node) int {
	count := 1
	delete(a.nodes, n.ID)
	for _, c := range n.Children {
		if child, ok := a.nodes[c]; ok && child.ParentID == n.ID {
			count += a.remove(child)
		}
	}
	return count
}

// Root follows parent links up to the root of id's tree.
func (a *Items) Root(id string) (*Node, bool) {
	n, ok := a.nodes[id]
	for ok && n.ParentID != "" {
		p, found := a.nodes[n.ParentID]
		if !found {
			break
		}
		n = p
	}
	return n, ok
}

// IsAncestor reports whether anc is id or one of its ancestors.
func (a *Items) IsAncestor(anc, id string) bool {
	for cur := id; cur != ""; {
		if cur == anc {
			return true
		}
		n, ok := a.nodes[cur]
		if !ok {
			return false
		}
		cur = n.ParentID
	}
	return false
}

// Walk visits the subtree of id depth first. Returning false from fn skips
// the children of that node.
func (a *Items) Walk(id string, fn func(n *Node, depth int) bool) {
	a.walk(id, 0, fn)
}

func (a *Items) walk(id string, depth int, fn func(*Node, int) bool) {
	n, ok := a.nodes[id]
	if !ok || !fn(n, depth) {
		return
	}
	for _, c := range n.Children {
		a.walk(c, depth+1, fn)
	}
}

// Subtree returns the ids of id and its descendants.
func (a *Items) Subtree(id string) []string {
	var out []string
	a.Walk(id, func(n *Node, _ int) bool {
		out = append(out, n.ID)
		return true
	})
	return out
}

func (a *Items) detach(n *Node) {
	if n.ParentID == "" {
		return
	}
	if p, ok := a.nodes[n.ParentID]; ok {
		for i, c := range p.Children {
			if c == n.ID {
				p.Children = append(p.Children[:i], p.Children[i+1:]...)
				break
			}
		}
	}
	n.ParentID = ""
}

// attach links n under parent. The caller has checked for cycles.
func (a *Items) attach(n *Node, parent *Node, kind entity.AddressKind, container string, loc *entity.Location) {
	a.detach(n)
	n.ParentID = parent.ID
	n.Kind = kind
	n.Container = container
	n.Location = nil
	if loc != nil {
		l := *loc
		n.Location = &l
	}
	n.Owner = ""
	parent.Children = append(parent.Children, n.ID)
}

// makeRoot detaches n and records owner on it.
func (a *Items) makeRoot(n *Node, owner string) {
	a.detach(n)
	n.Kind = entity.AddrOwner
	n.Container = ""
	n.Location = nil
	n.Owner = owner
}
