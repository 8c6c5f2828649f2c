package miner

import "context"

// GraphEventKind says how a resource changed in a committed update.
type GraphEventKind int

const (
	GraphCreated GraphEventKind = iota + 1
	GraphUpdated
	GraphDeleted
)

func (k GraphEventKind) String() string {
	switch k {
	case GraphCreated:
		return "created"
	case GraphUpdated:
		return "updated"
	case GraphDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// GraphEvent is published once per touched resource after a commit.
type GraphEvent struct {
	Subject string
	Kind    GraphEventKind
}

// Store is the graph store adapter. Every Update is a single transaction:
// queries never observe a partially applied update.
type Store interface {
	// Update applies all mutations atomically. Failures are *StoreError.
	Update(ctx context.Context, mutations []Mutation) error

	// Query returns the statements matching the pattern in insertion order.
	Query(ctx context.Context, pattern Pattern) ([]Statement, error)

	// Ask reports whether any statement matches the pattern.
	Ask(ctx context.Context, pattern Pattern) (bool, error)

	// Search returns the subjects whose full-text entries contain every
	// term of text.
	Search(ctx context.Context, text string, limit int) ([]string, error)

	// Subscribe returns a channel of committed resource changes and a
	// function that cancels the subscription.
	Subscribe() (<-chan GraphEvent, func())

	Close() error
}
