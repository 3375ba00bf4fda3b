// Package inodetable implements the packed, fixed-stride, ino-ordered
// array of scanned inode records and its O(log n) lookup by inode number.
package inodetable

import (
	"encoding/binary"
	"fmt"

	"github.com/extls-project/extls/internal/packedvector"
)

// TimeMode selects which optional timestamp columns a table's records
// carry, which in turn fixes the record stride: 8 bytes with neither
// timestamp, 12 with one, 16 with both.
type TimeMode int

const (
	TimeNone TimeMode = iota
	TimeOne
	TimeBoth
)

func (m TimeMode) stride() int {
	switch m {
	case TimeNone:
		return 8
	case TimeOne:
		return 12
	case TimeBoth:
		return 16
	default:
		panic(fmt.Sprintf("inodetable: invalid time mode %d", m))
	}
}

// Record is one decoded InodeTable entry.
type Record struct {
	Ino          uint32
	DirentOffset uint32
	Time1        uint32
	Time2        uint32
}

// Table is a packed array of Records sorted by ascending Ino.
type Table struct {
	pv     *packedvector.PackedVector
	mode   TimeMode
	stride int
	count  int
}

// New returns an empty Table using the stride implied by mode.
func New(mode TimeMode) *Table {
	return &Table{
		pv:     packedvector.New(),
		mode:   mode,
		stride: mode.stride(),
	}
}

// Count returns the number of records appended so far.
func (t *Table) Count() int {
	return t.count
}

// Append adds a record. Callers must append in strictly ascending Ino
// order; the table does not sort or verify this itself, matching the
// scanner's guarantee that the underlying inode iterator is already
// disk-sequential-by-ino.
//
// The on-disk dirent_offset field is stored biased by +1 so that 0
// unambiguously means "not yet set" even though a real DirentStore
// offset of 0 (the very first record appended, always the root
// sentinel) is a legitimate value.
func (t *Table) Append(ino uint32, time1, time2 uint32) int {
	rec := make([]byte, t.stride)
	binary.LittleEndian.PutUint32(rec[0:4], ino)
	binary.LittleEndian.PutUint32(rec[4:8], 0) // dirent_offset, filled in lazily during pass 2
	switch t.mode {
	case TimeOne:
		binary.LittleEndian.PutUint32(rec[8:12], time1)
	case TimeBoth:
		binary.LittleEndian.PutUint32(rec[8:12], time1)
		binary.LittleEndian.PutUint32(rec[12:16], time2)
	}
	t.pv.Append(rec)
	idx := t.count
	t.count++
	return idx
}

// recordAt decodes the record at table index idx.
func (t *Table) recordAt(idx int) Record {
	b := t.pv.At(idx*t.stride, t.stride)
	r := Record{
		Ino: binary.LittleEndian.Uint32(b[0:4]),
	}
	if biased := binary.LittleEndian.Uint32(b[4:8]); biased > 0 {
		r.DirentOffset = biased - 1
	}
	switch t.mode {
	case TimeOne:
		r.Time1 = binary.LittleEndian.Uint32(b[8:12])
	case TimeBoth:
		r.Time1 = binary.LittleEndian.Uint32(b[8:12])
		r.Time2 = binary.LittleEndian.Uint32(b[12:16])
	}
	return r
}

// At returns the decoded record at table index idx.
func (t *Table) At(idx int) Record {
	return t.recordAt(idx)
}

// SetDirentOffset overwrites the dirent_offset field of the record at
// table index idx. Used by pass 2's first-encountered-name rule: the
// field is written once and left alone on subsequent hardlink sightings.
func (t *Table) SetDirentOffset(idx int, offset uint32) {
	b := t.pv.At(idx*t.stride, t.stride)
	if binary.LittleEndian.Uint32(b[4:8]) == 0 {
		binary.LittleEndian.PutUint32(b[4:8], offset+1)
	}
}

// ino returns the Ino field of the record at table index idx, without
// decoding the rest of the record — the hot path for Lookup's bisection.
func (t *Table) ino(idx int) uint32 {
	b := t.pv.At(idx*t.stride, 4)
	return binary.LittleEndian.Uint32(b)
}

// Lookup finds the table index of the record with the given ino, using
// the bisection-then-linear-walk algorithm: starting from index==count
// and half==count, repeatedly halve the step and move toward or away
// from the current landing point depending on comparison with ino, then
// finish with a linear walk in the indicated direction. Callers must
// only look up an ino known to be present; a miss indicates table
// corruption or caller error and is reported via the second return
// value rather than by panicking, so the scanner can decide whether a
// given miss is fatal (see package scanner).
func (t *Table) Lookup(ino uint32) (index int, ok bool) {
	count := t.count
	if count == 0 {
		return 0, false
	}

	index = count
	half := count
	haveCurrent := false
	var current uint32

	for half > 1 {
		half /= 2
		if haveCurrent && current < ino {
			index += half
		} else {
			index -= half
		}
		if index < 0 {
			index = 0
		}
		if index >= count {
			index = count - 1
		}
		current = t.ino(index)
		haveCurrent = true
		if current == ino {
			return index, true
		}
	}

	// Finish with a linear walk from the landing index. When the
	// bisection loop never ran (count < 2), start the walk from index -1
	// so it proceeds forward from the first element.
	if !haveCurrent {
		index = -1
	}
	if index < 0 {
		index = -1
	}
	if index >= count {
		index = count
	}

	if haveCurrent && current < ino {
		for i := index; i < count; i++ {
			v := t.ino(i)
			if v == ino {
				return i, true
			}
			if v > ino {
				break
			}
		}
		return 0, false
	}

	for i := index; i >= 0; i-- {
		if i >= count {
			continue
		}
		v := t.ino(i)
		if v == ino {
			return i, true
		}
		if v < ino {
			break
		}
	}
	// also cover the forward direction for the no-bisection (count<2) case
	for i := 0; i < count; i++ {
		v := t.ino(i)
		if v == ino {
			return i, true
		}
	}
	return 0, false
}
