package equation

import (
	"sort"

	"github.com/adjoint-ml/adjoint/fn"
)

// Referrer is a node in the reference graph that ties equations to the
// matrices and right-hand-side terms they were built from. The graph lets a
// tape orchestrator find every object transitively connected to an equation
// so the whole cluster can drop its live values together.
//
// Handles are explicit and non-owning: nodes register with AddReferrer and
// the graph is torn down by DropReferences lifecycle calls, not by
// finalizers.
type Referrer struct {
	id        uint64
	referrers map[uint64]*Referrer
	dropped   bool
}

// NewReferrer creates a graph node with a creation-ordered identity.
func NewReferrer() *Referrer {
	return &Referrer{
		id:        fn.NextID(),
		referrers: make(map[uint64]*Referrer),
	}
}

// ID returns the node identity.
func (r *Referrer) ID() uint64 { return r.id }

// Dropped reports whether DropReferences has run for this node.
func (r *Referrer) Dropped() bool { return r.dropped }

// MarkDropped records that the holder has dropped its references. Idempotent.
func (r *Referrer) MarkDropped() { r.dropped = true }

// AddReferrer links the given nodes to this one. Linking after references
// have been dropped is an error.
func (r *Referrer) AddReferrer(refs ...*Referrer) error {
	if r.dropped {
		return ErrReferencesDropped
	}
	for _, ref := range refs {
		r.referrers[ref.id] = ref
	}
	return nil
}

// Referrers returns every node transitively connected to this one, itself
// included, in identity order. Breadth-first over the registered links.
func (r *Referrer) Referrers() []*Referrer {
	seen := map[uint64]*Referrer{r.id: r}
	queue := []*Referrer{r}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for id, child := range node.referrers {
			if _, ok := seen[id]; !ok {
				seen[id] = child
				queue = append(queue, child)
			}
		}
	}
	out := make([]*Referrer, 0, len(seen))
	for _, node := range seen {
		out = append(out, node)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}
