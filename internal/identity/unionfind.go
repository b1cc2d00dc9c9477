package identity

// UnionFind is a disjoint-set over identity IDs with path compression.
// Union ordering is deterministic (rank, then lexicographic), so merging A
// into B and B into A settle on the same root: the commutativity the merge
// semantics promise falls out of the structure instead of row-update order.
type UnionFind struct {
	parent map[string]string
	rank   map[string]int
}

// NewUnionFind creates an empty disjoint-set.
func NewUnionFind() *UnionFind {
	return &UnionFind{
		parent: make(map[string]string),
		rank:   make(map[string]int),
	}
}

// Find returns the canonical root for id, compressing the path walked.
// An id never seen before is its own root.
func (u *UnionFind) Find(id string) string {
	root, ok := u.parent[id]
	if !ok {
		return id
	}
	if root != id {
		root = u.Find(root)
		u.parent[id] = root
	}
	return root
}

// Union merges the sets containing a and b and returns the surviving root.
// Calling it again with the same pair, in either order, is a no-op.
func (u *UnionFind) Union(a, b string) string {
	ra, rb := u.Find(a), u.Find(b)
	if ra == rb {
		return ra
	}

	u.ensure(ra)
	u.ensure(rb)

	// Attach the lower-ranked tree; break rank ties lexicographically so the
	// winner does not depend on merge order.
	if u.rank[ra] < u.rank[rb] || (u.rank[ra] == u.rank[rb] && rb < ra) {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	if u.rank[ra] == u.rank[rb] {
		u.rank[ra]++
	}
	return ra
}

// Merged reports whether two ids have been proven to be the same identity.
func (u *UnionFind) Merged(a, b string) bool {
	return u.Find(a) == u.Find(b)
}

func (u *UnionFind) ensure(id string) {
	if _, ok := u.parent[id]; !ok {
		u.parent[id] = id
		u.rank[id] = 0
	}
}
