// Package postgres provides PostgreSQL-backed implementations of the
// storage interfaces defined in internal/store and of the stream.Log
// queue abstraction. It handles query execution, transactional group
// reads, and mapping between database errors and store sentinels.
package postgres
