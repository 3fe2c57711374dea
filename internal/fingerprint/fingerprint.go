// Package fingerprint computes content fingerprints for documents and
// the order-independent aggregate used as the compilation cache key.
package fingerprint

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint is a 64-bit content digest.
type Fingerprint uint64

// Of returns the fingerprint of raw content.
func Of(data []byte) Fingerprint {
	return Fingerprint(xxhash.Sum64(data))
}

// OfString returns the fingerprint of string content.
func OfString(s string) Fingerprint {
	return Fingerprint(xxhash.Sum64String(s))
}

func (f Fingerprint) String() string {
	return fmt.Sprintf("%016x", uint64(f))
}

// Member binds a content fingerprint to the identity of the file it came
// from, so that two files swapping contents changes the aggregate.
func Member(path string, content Fingerprint) Fingerprint {
	d := xxhash.New()
	_, _ = d.WriteString(path)
	_, _ = d.Write([]byte{0})
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(content))
	_, _ = d.Write(buf[:])
	return Fingerprint(d.Sum64())
}

// Aggregate combines member fingerprints into a single digest. XOR makes
// the combine commutative, so member order does not matter.
func Aggregate(members map[string]Fingerprint) Fingerprint {
	var agg Fingerprint
	for path, fp := range members {
		agg ^= Member(path, fp)
	}
	return agg
}
