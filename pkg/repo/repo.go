// Package repo defines the generic Repository interface and a Neo4j-backed
// implementation used by the audit ledger.
package repo

import "context"

// Repository is a generic CRUD interface.
type Repository[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (T, error)
	List(ctx context.Context, opts ListOpts) ([]T, error)
	Create(ctx context.Context, entity T) (T, error)
	Update(ctx context.Context, entity T) (T, error)
	Delete(ctx context.Context, id ID) error
}

// ListOpts controls pagination, ordering and equality filtering for List.
type ListOpts struct {
	Offset int
	Limit  int
	// Filter matches node properties by equality.
	Filter map[string]any
	// OrderBy names a property; results are ascending unless Desc is set.
	OrderBy string
	Desc    bool
}
