// File: topology/mask.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Mask is a set of processing units (PUs) stored as a bitset of 64-bit words.
// The zero value is an empty mask.

package topology

import (
	"math/bits"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const wordBits = 64

// Mask is a PU bitset. Masks are values; operations return new masks.
type Mask struct {
	words []uint64
}

// MaskOf returns a mask with the given PUs set.
func MaskOf(pus ...int) Mask {
	var m Mask
	for _, pu := range pus {
		m.Set(pu)
	}
	return m
}

// Clone returns a mask that shares no storage with m.
func (m Mask) Clone() Mask {
	return Mask{words: append([]uint64(nil), m.words...)}
}

// Set adds pu to the mask.
func (m *Mask) Set(pu int) {
	if pu < 0 {
		return
	}
	w := pu / wordBits
	if w >= len(m.words) {
		grown := make([]uint64, w+1)
		copy(grown, m.words)
		m.words = grown
	}
	m.words[w] |= 1 << uint(pu%wordBits)
}

// Clear removes pu from the mask.
func (m *Mask) Clear(pu int) {
	w := pu / wordBits
	if pu < 0 || w >= len(m.words) {
		return
	}
	m.words[w] &^= 1 << uint(pu%wordBits)
}

// IsSet reports whether pu is in the mask.
func (m Mask) IsSet(pu int) bool {
	w := pu / wordBits
	if pu < 0 || w >= len(m.words) {
		return false
	}
	return m.words[w]&(1<<uint(pu%wordBits)) != 0
}

// Any reports whether at least one PU is set.
func (m Mask) Any() bool {
	for _, w := range m.words {
		if w != 0 {
			return true
		}
	}
	return false
}

// Count returns the number of PUs in the mask.
func (m Mask) Count() int {
	n := 0
	for _, w := range m.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// And returns the intersection of m and o.
func (m Mask) And(o Mask) Mask {
	n := min(len(m.words), len(o.words))
	out := Mask{words: make([]uint64, n)}
	for i := 0; i < n; i++ {
		out.words[i] = m.words[i] & o.words[i]
	}
	return out
}

// Or returns the union of m and o.
func (m Mask) Or(o Mask) Mask {
	long, short := m.words, o.words
	if len(short) > len(long) {
		long, short = short, long
	}
	out := Mask{words: make([]uint64, len(long))}
	copy(out.words, long)
	for i, w := range short {
		out.words[i] |= w
	}
	return out
}

// Intersects reports whether m and o share at least one PU.
func (m Mask) Intersects(o Mask) bool {
	n := min(len(m.words), len(o.words))
	for i := 0; i < n; i++ {
		if m.words[i]&o.words[i] != 0 {
			return true
		}
	}
	return false
}

// SubsetOf reports whether every PU of m is also in o.
func (m Mask) SubsetOf(o Mask) bool {
	for i, w := range m.words {
		var ow uint64
		if i < len(o.words) {
			ow = o.words[i]
		}
		if w&^ow != 0 {
			return false
		}
	}
	return true
}

// Equal reports whether both masks hold the same PUs.
func (m Mask) Equal(o Mask) bool {
	return m.SubsetOf(o) && o.SubsetOf(m)
}

// PUs returns the set PU indices in ascending order.
func (m Mask) PUs() []int {
	out := make([]int, 0, m.Count())
	for i, w := range m.words {
		for w != 0 {
			b := bits.TrailingZeros64(w)
			out = append(out, i*wordBits+b)
			w &^= 1 << uint(b)
		}
	}
	return out
}

// First returns the lowest PU in the mask, or -1 for an empty mask.
func (m Mask) First() int {
	for i, w := range m.words {
		if w != 0 {
			return i*wordBits + bits.TrailingZeros64(w)
		}
	}
	return -1
}

// String formats the mask as a Linux CPU list, e.g. "0-3,8,10-11".
func (m Mask) String() string {
	pus := m.PUs()
	if len(pus) == 0 {
		return ""
	}
	var sb strings.Builder
	start, prev := pus[0], pus[0]
	flush := func() {
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(start))
		if prev != start {
			sb.WriteByte('-')
			sb.WriteString(strconv.Itoa(prev))
		}
	}
	for _, pu := range pus[1:] {
		if pu == prev+1 {
			prev = pu
			continue
		}
		flush()
		start, prev = pu, pu
	}
	flush()
	return sb.String()
}

// ParseMask parses a Linux CPU list such as "0-3,8".
func ParseMask(list string) (Mask, error) {
	var m Mask
	list = strings.TrimSpace(list)
	if list == "" {
		return m, nil
	}
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		lo, hi, isRange := strings.Cut(part, "-")
		first, err := strconv.Atoi(lo)
		if err != nil {
			return Mask{}, errors.Wrapf(err, "invalid cpu list entry %q", part)
		}
		last := first
		if isRange {
			if last, err = strconv.Atoi(hi); err != nil {
				return Mask{}, errors.Wrapf(err, "invalid cpu list entry %q", part)
			}
		}
		if first < 0 || last < first {
			return Mask{}, errors.Errorf("invalid cpu range %q", part)
		}
		for pu := first; pu <= last; pu++ {
			m.Set(pu)
		}
	}
	return m, nil
}
