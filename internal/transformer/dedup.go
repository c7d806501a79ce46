package transformer

import (
	"github.com/zeebo/xxh3"
)

// dedupSet remembers the 128-bit xxh3 digest of every record produced in a
// run. Values are joined with the unit separator so ["ab","c"] and ["a","bc"]
// key differently.
type dedupSet struct {
	seen map[xxh3.Uint128]struct{}
	buf  []byte
}

func newDedupSet() *dedupSet {
	return &dedupSet{seen: make(map[xxh3.Uint128]struct{})}
}

// add reports whether rec was not seen before, recording it.
func (d *dedupSet) add(rec Record) bool {
	d.buf = d.buf[:0]
	for i, v := range rec {
		if i > 0 {
			d.buf = append(d.buf, '\x1f')
		}
		d.buf = append(d.buf, v...)
	}
	key := xxh3.Hash128(d.buf)
	if _, ok := d.seen[key]; ok {
		return false
	}
	d.seen[key] = struct{}{}
	return true
}
