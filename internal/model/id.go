package model

import "github.com/oklog/ulid/v2"

// NewID generates a new ULID string for use as a job identifier. ULIDs are
// 128-bit, collision-free in practice, and sort by creation time, which the
// store relies on for FIFO queue ordering.
func NewID() string {
	return ulid.Make().String()
}
