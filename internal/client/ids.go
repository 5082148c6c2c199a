package client

import "github.com/google/uuid"

// IDGenerator mints journal entry ids. Ids must be unique: the journal
// treats a duplicate id as an already-recorded entry and silently drops
// the append.
type IDGenerator interface {
	Generate() string
}

// UUIDGenerator is the production generator: UUIDv7, time-ordered and
// unique across restarts.
type UUIDGenerator struct{}

// Generate returns a new UUIDv7 string.
func (UUIDGenerator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
