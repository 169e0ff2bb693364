// Package idgen hands out small debug identifiers for CancelCtx and
// FibreCtx nodes. It exists purely so panic messages and String()
// implementations have something more useful than a pointer address.
package idgen

import (
	"math/rand/v2"
	"sync"

	"github.com/taylorza/go-lfsr"
)

var (
	mu  sync.Mutex
	gen = lfsr.NewLfsr32(rand.Uint32())
)

// Next returns an identifier in [1, 2^31-1]. Never use it for control
// flow: it exists for String()/panic messages only.
func Next() uint32 {
	mu.Lock()
	defer mu.Unlock()

	for {
		id, restarted := gen.Next()
		if restarted {
			panic("idgen: generated ~32 bits of IDs")
		}

		if id == 0 || id&0x80000000 == 0x80000000 {
			continue // don't allow zero or anything with top bit
		}

		return id
	}
}
