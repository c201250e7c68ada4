package delta

import (
	"github.com/google/btree"

	"github.com/yairfalse/snapdelta/pkg/resource"
)

// index is an identity index ordered by ARN. Iteration order is independent
// of input order, which keeps reports stable under shuffling.
type index struct {
	tree *btree.BTreeG[resource.Resource]
}

func lessARN(a, b resource.Resource) bool {
	return a.ARN < b.ARN
}

// buildIndex indexes resources by ARN. Callers validate uniqueness first;
// a duplicate would replace the earlier entry.
func buildIndex(resources []resource.Resource) *index {
	tree := btree.NewG[resource.Resource](32, lessARN)
	for _, r := range resources {
		tree.ReplaceOrInsert(r)
	}
	return &index{tree: tree}
}

func (i *index) get(arn string) (resource.Resource, bool) {
	return i.tree.Get(resource.Resource{ARN: arn})
}

func (i *index) has(arn string) bool {
	return i.tree.Has(resource.Resource{ARN: arn})
}

func (i *index) len() int {
	return i.tree.Len()
}

// ascend visits resources in ARN order.
func (i *index) ascend(fn func(resource.Resource)) {
	i.tree.Ascend(func(r resource.Resource) bool {
		fn(r)
		return true
	})
}
