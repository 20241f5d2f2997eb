package index

import "errors"

var (
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrIndexCorrupted    = errors.New("index corrupted, writes disabled until cleared")
	ErrIndexUnreachable  = errors.New("vector index backend unreachable")
)
