package ports

import (
	"context"

	"vrdf/internal/engine/graph"
	"vrdf/internal/engine/versions"
)

// TripleLog is the append-only, durable source of truth. Append writes the
// ops and the version record atomically; implementations reject a version id
// that does not exceed the dataset's latest with an ORDERING_VIOLATION and
// report storage failures as IO_FAILURE.
type TripleLog interface {
	// Append stores ops under v and returns v with its log range and op
	// count filled in.
	Append(ctx context.Context, v versions.Version, ops []graph.Op) (versions.Version, error)
	// Scan returns dataset's ops with sequence in (fromExclusive, toInclusive], in log order.
	Scan(ctx context.Context, dataset string, fromExclusive, toInclusive int64) ([]graph.Op, error)
	// Versions returns every persisted version record, grouped by dataset in
	// commit order.
	Versions(ctx context.Context) ([]versions.Version, error)
	// Count returns the number of log entries for dataset, or for the whole
	// log when dataset is empty.
	Count(ctx context.Context, dataset string) (int64, error)
	Close() error
}

// CheckpointStore caches materialized graphs keyed by version. A miss is not
// an error. Stores hand out and keep private copies.
type CheckpointStore interface {
	Get(ctx context.Context, v versions.Version) (*graph.Graph, bool, error)
	Put(ctx context.Context, v versions.Version, g *graph.Graph) error
	Close() error
}

// ShapeValidator checks a materialized graph and returns a human-readable
// report when it does not conform.
type ShapeValidator interface {
	Validate(ctx context.Context, g *graph.Graph) (valid bool, report string, err error)
}

// Publisher fans commit events out to subscribers. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}
