// Package store defines the persistence interfaces the engine consumes:
// chat/workflow context lookups, job result upserts, and persisted node
// summaries. Implementations live in internal/platform; the engine never
// depends on a concrete database from its core packages.
package store
