package exception

import "github.com/yanun0323/errors"

// Checkpoint errors
var (
	// ErrIncompatibleVersion is returned when a checkpoint was written by a
	// different schema version. No partial restore is attempted.
	ErrIncompatibleVersion = errors.New("checkpoint: incompatible version")

	// ErrCheckpointNotFound is returned when no checkpoint exists for a simulator.
	ErrCheckpointNotFound = errors.New("checkpoint: not found")

	// ErrCheckpointIO wraps filesystem and database failures while saving or loading.
	ErrCheckpointIO = errors.New("checkpoint: io failure")

	// ErrCheckpointCorrupt is returned when a checkpoint document cannot be decoded.
	ErrCheckpointCorrupt = errors.New("checkpoint: corrupt document")
)
