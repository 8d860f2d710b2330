// Package id generates identifiers for trace records.
package id

import (
	"strconv"
	"sync/atomic"

	"github.com/rs/xid"
)

// A Generator hands out unique IDs. Generators are safe for concurrent use.
type Generator interface {
	Generate() string
}

// NewSequential returns a generator producing "1", "2", and so on. Runs that
// issue the same events in the same order get the same IDs.
func NewSequential() Generator {
	return &sequential{}
}

// NewParallel returns a generator of globally unique IDs that do not depend on
// the order of generation.
func NewParallel() Generator {
	return parallel{}
}

type sequential struct {
	next atomic.Uint64
}

func (g *sequential) Generate() string {
	return strconv.FormatUint(g.next.Add(1), 10)
}

type parallel struct{}

func (parallel) Generate() string {
	return xid.New().String()
}
