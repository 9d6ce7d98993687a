// Package ids generates the three identifier families the pipeline assigns:
// incident IDs, cluster IDs, and trace IDs. All three are pure, total
// functions over their inputs (or over the process's random source) and
// never fail.
package ids

import (
	"encoding/hex"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
)

// clusterIDSeed matches the fixed seed the reference implementation uses for
// its hand-rolled MurmurHash3 x86_32, so cluster IDs are bit-for-bit
// reproducible against that implementation for the same fingerprint.
const clusterIDSeed = 0x5a5a5a5a

// rngMu guards rng; math/rand's global source is safe for concurrent use,
// but a private source avoids contending with unrelated callers and mirrors
// the "thread-local random source" the active-cluster map and correlator
// assume elsewhere in this package family.
var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func randUint32(max uint32) uint32 {
	rngMu.Lock()
	defer rngMu.Unlock()
	return uint32(rng.Int63n(int64(max) + 1))
}

func randUint64() uint64 {
	rngMu.Lock()
	defer rngMu.Unlock()
	return rng.Uint64()
}

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

func base36Encode(value uint64) string {
	if value == 0 {
		return "0"
	}
	var buf [13]byte // enough for a 64-bit value in base36
	i := len(buf)
	for value > 0 {
		i--
		buf[i] = base36Alphabet[value%36]
		value /= 36
	}
	return string(buf[i:])
}

// NewIncidentID generates "inc_" + base36(unix seconds) + base36(24-bit
// random). The time-ordered prefix supports lexicographic range queries over
// incident IDs.
func NewIncidentID() string {
	timestamp := uint64(time.Now().Unix())
	randomPart := randUint32(0xFFFFFF)
	return "inc_" + base36Encode(timestamp) + base36Encode(uint64(randomPart))
}

// NewClusterID derives "clu_" + hex8(murmur3_32(fingerprint)) deterministically
// from a fingerprint: identical fingerprints yield identical cluster IDs. The
// active-cluster map, not this function, is what gives cluster identity its
// windowed meaning (see pkg/clusterer) — outside a window, a recurring
// fingerprint reuses the same ID by construction.
func NewClusterID(fingerprint string) string {
	h := murmur3.Sum32WithSeed([]byte(fingerprint), clusterIDSeed)
	return "clu_" + fmt.Sprintf("%08x", h)
}

// NewTraceID returns 16 lowercase hex characters drawn from 64 random bits.
func NewTraceID() string {
	v := randUint64()
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return hex.EncodeToString(b)
}
