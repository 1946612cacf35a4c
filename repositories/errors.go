package repositories

import "errors"

// ErrDuplicateChunk is returned when a (source, chunk index) pair already exists
var ErrDuplicateChunk = errors.New("duplicate chunk")
