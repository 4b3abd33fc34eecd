// Package ids provides the identifier disciplines used across saltfish:
// fixed-width random ids for datasets and records, and a strictly
// monotonic process-wide tick counter used to sequence record writes.
package ids

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DatasetIDLen is the width in bytes of a dataset id.
	DatasetIDLen = 24

	// RecordIDLen is the width in bytes of a record id. Record keys in the
	// object store are these 8 bytes interpreted as a little-endian uint64.
	RecordIDLen = 8

	blockSize = 8
)

var seedCounter atomic.Uint64

// randPool hands out seeded PCG sources. rand.Rand is not safe for
// concurrent use, so each caller borrows a source for the duration of a
// draw. Seeds mix the wall clock with a process-unique counter so two
// sources started in the same nanosecond still diverge.
var randPool = sync.Pool{
	New: func() any {
		seq := seedCounter.Add(1)
		return rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), seq*0x9e3779b97f4a7c15))
	},
}

// RandomBytes returns width uniformly random bytes. The width must be a
// positive multiple of 8; the result is drawn as width/8 uint64s.
func RandomBytes(width int) []byte {
	if width <= 0 || width%blockSize != 0 {
		panic(fmt.Sprintf("ids: width must be a positive multiple of %d, got %d", blockSize, width))
	}
	r := randPool.Get().(*rand.Rand)
	defer randPool.Put(r)

	out := make([]byte, width)
	for i := 0; i < width; i += blockSize {
		binary.LittleEndian.PutUint64(out[i:], r.Uint64())
	}
	return out
}

// RandomUint64 returns one uniform 64-bit draw.
func RandomUint64() uint64 {
	r := randPool.Get().(*rand.Rand)
	defer randPool.Put(r)
	return r.Uint64()
}

// RandomIndex returns a uniform value in [0, max). max must be positive.
func RandomIndex(max int64) int64 {
	r := randPool.Get().(*rand.Rand)
	defer randPool.Put(r)
	return r.Int64N(max)
}

var lastTick atomic.Int64

func init() {
	lastTick.Store(time.Now().UnixMicro())
}

// Tick returns an int64 strictly greater than every value previously
// returned by Tick in this process. The value tracks microseconds since
// the epoch when the clock is ahead of the counter, so ticks double as
// coarse wall-clock timestamps.
func Tick() int64 {
	now := time.Now().UnixMicro()
	for {
		last := lastTick.Load()
		next := last + 1
		if now > next {
			next = now
		}
		if lastTick.CompareAndSwap(last, next) {
			return next
		}
	}
}

// EncodeID renders an id in its display form: base64url, no padding.
func EncodeID(id []byte) string {
	return base64.RawURLEncoding.EncodeToString(id)
}

// DecodeID parses the display form produced by EncodeID.
func DecodeID(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

// RecordKey converts a record id to its object-store key: the raw 8
// bytes, read as a little-endian uint64 for display and range scans.
func RecordKey(recordID []byte) uint64 {
	if len(recordID) != RecordIDLen {
		panic(fmt.Sprintf("ids: record id must be %d bytes, got %d", RecordIDLen, len(recordID)))
	}
	return binary.LittleEndian.Uint64(recordID)
}
