package util

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDAllocator hands out opaque, unique identifiers. Callers never parse them.
type IDAllocator interface {
	Next() string
}

// SequenceIDs yields prefix-1, prefix-2, ... Deterministic, so tests and
// replays reproduce the same ids.
type SequenceIDs struct {
	prefix string
	n      atomic.Uint64
}

func NewSequenceIDs(prefix string) *SequenceIDs {
	return &SequenceIDs{prefix: prefix}
}

func (s *SequenceIDs) Next() string {
	return s.prefix + "-" + strconv.FormatUint(s.n.Add(1), 10)
}

// UUIDs yields random v4 ids, optionally prefixed.
type UUIDs struct {
	Prefix string
}

func (u UUIDs) Next() string {
	if u.Prefix == "" {
		return uuid.NewString()
	}
	return u.Prefix + "-" + uuid.NewString()
}
