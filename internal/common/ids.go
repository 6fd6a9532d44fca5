package common

import "github.com/google/uuid"

// IDGenerator abstracts ID generation so the upload enqueuer can be
// driven deterministically in tests, alongside Clock and Rand.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator is the production IDGenerator, backed by google/uuid.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string { return uuid.New().String() }
