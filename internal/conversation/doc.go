// Package conversation stores chat conversations.
//
// A Conversation is one record holding the full ordered message history of
// a tenant user's chat. Messages are append-only: a turn adds exactly one
// user and one assistant message and the record is saved once per turn.
//
// Two Store implementations are provided: MemoryStore for tests and single
// process deployments, and MongoStore, which keeps one document per
// conversation in the "conversations" collection keyed by conversation id
// and filtered by tenant.
//
// Locker serializes turns on the same conversation so concurrent requests
// cannot interleave their read-modify-write of the history.
package conversation
