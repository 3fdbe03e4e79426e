// Package vectorstore holds per-tenant vector indexes.
//
// Each tenant owns an isolated, append-oriented collection of embedded
// chunks. Every operation is keyed by tenant id and only ever touches that
// tenant's collection; there is no cross-tenant query.
//
// MemoryIndex answers searches by exact linear-scan cosine similarity. It
// keeps one read/write lock per tenant, so writers to the same tenant are
// serialized while readers proceed concurrently, and a batch insert becomes
// visible to searches all at once.
//
// Contents do not survive a process restart.
package vectorstore
