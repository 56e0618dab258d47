// Package vectorstore stores chunk embeddings per tenant and answers
// nearest-neighbour queries.
//
// Every build writes a fresh generation of a tenant's records into its own
// collection, named "<prefix>_<tenant>_<generation>". Records also carry the
// tenant in their payload and every query filters on it, so a misrouted
// collection name still cannot leak another tenant's data.
//
// Implementations:
//   - ChromemIndex: embedded chromem-go, in memory or persisted to disk (default)
//   - QdrantIndex: external Qdrant over gRPC, with retries and a circuit breaker
package vectorstore
