package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in
	// the store. This is the generic version of the entity-specific
	// not found errors below.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an operation would create a
	// duplicate of a unique entity.
	ErrDuplicate = errors.New("entity already exists")

	// ErrUpdateFailed is returned when an update operation fails, for
	// example because the entity does not exist or the update violates
	// constraints.
	ErrUpdateFailed = errors.New("update failed")

	// Entity-specific "not found" errors

	// ErrChatMessageNotFound indicates that the requested chat message
	// does not exist in the store.
	ErrChatMessageNotFound = fmt.Errorf("%w: chat message", ErrNotFound)

	// ErrNodeNotFound indicates that the requested node does not exist.
	ErrNodeNotFound = fmt.Errorf("%w: node", ErrNotFound)

	// ErrProjectNotFound indicates that the requested project does not exist.
	ErrProjectNotFound = fmt.Errorf("%w: project", ErrNotFound)

	// ErrTemplateNotFound indicates that the requested template does not exist.
	ErrTemplateNotFound = fmt.Errorf("%w: template", ErrNotFound)

	// ErrModelAssignmentNotFound indicates the project has no model assigned.
	ErrModelAssignmentNotFound = fmt.Errorf("%w: model assignment", ErrNotFound)

	// ErrSummaryNotFound indicates no persisted summary exists for the node.
	ErrSummaryNotFound = fmt.Errorf("%w: node summary", ErrNotFound)
)

// IsNotFound checks if the error is any kind of "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
