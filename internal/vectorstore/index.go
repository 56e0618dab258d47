package vectorstore

import (
	"context"
	"fmt"
)

// Partition addresses one build generation of one tenant's records.
type Partition struct {
	Tenant     string
	Generation string
}

// String returns "tenant/generation".
func (p Partition) String() string {
	return p.Tenant + "/" + p.Generation
}

// Validate checks both parts against the naming rules.
func (p Partition) Validate() error {
	if err := ValidateTenant(p.Tenant); err != nil {
		return err
	}
	if !generationPattern.MatchString(p.Generation) {
		return fmt.Errorf("%w: generation must be 12 lowercase hex characters, got %q", ErrInvalid, p.Generation)
	}
	return nil
}

// Record is one embedded chunk.
type Record struct {
	ID        string
	Text      string
	Embedding []float32
	// SourceTag identifies the chunk in answers, e.g. "3f2a9c01-7".
	SourceTag string
	Metadata  map[string]string
}

// Match is a query hit. Score is cosine similarity, higher is closer.
type Match struct {
	ID        string
	Text      string
	SourceTag string
	Score     float32
	Metadata  map[string]string
}

// Index is the logical contract every backend implements.
//
// Implementations are safe for concurrent use.
type Index interface {
	// Upsert writes records into p. It does not deduplicate; callers write
	// each build to a fresh generation instead.
	Upsert(ctx context.Context, p Partition, records []Record) error

	// Query returns up to k matches ordered by descending score.
	// An empty or missing partition yields an empty slice.
	Query(ctx context.Context, p Partition, embedding []float32, k int) ([]Match, error)

	// DropPartition removes p. Dropping a missing partition is not an error.
	DropPartition(ctx context.Context, p Partition) error

	// Partitions lists the generations stored for tenant, sorted by name.
	Partitions(ctx context.Context, tenant string) ([]Partition, error)

	// Dimension returns the embedding width the index accepts.
	Dimension() int

	// Ping checks the backend is reachable without running a query.
	Ping(ctx context.Context) error

	Close() error
}

// Payload keys shared by all backends.
const (
	payloadTenant    = "tenant"
	payloadSourceTag = "source_tag"
	payloadText      = "text"
	payloadID        = "id"
	payloadMetadata  = "metadata"
)
