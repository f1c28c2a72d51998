package domain

import "time"

// MaxReferralDepth bounds the closure table and the bonus levels.
const MaxReferralDepth = 20

// NetworkRow is one closure-table triple. Every user has a (u, u, 0)
// self-row; acyclicity forbids ancestor = descendant at depth > 0.
type NetworkRow struct {
	AncestorID   int64
	DescendantID int64
	Depth        int
	CreatedAt    time.Time
}

// Ancestor is a network lookup result: one upline user with the depth at
// which they sit relative to the queried user. Depth equals bonus level.
type Ancestor struct {
	UserID int64
	Depth  int
}

// Descendant mirrors Ancestor for downline queries.
type Descendant struct {
	UserID int64
	Depth  int
}
