// Package emitter walks a DirentStore and writes one record per
// selected inode to an output stream, in the fixed grammar the
// companion replication driver depends on.
package emitter

import (
	"bufio"
	"fmt"
	"io"

	"github.com/extls-project/extls/internal/bitfield"
	"github.com/extls-project/extls/internal/direntstore"
	"github.com/extls-project/extls/internal/inodetable"
	"github.com/extls-project/extls/internal/pathresolver"
)

// TimeStyle selects which timestamp columns prefix each emitted record.
type TimeStyle int

const (
	TimeStyleNone TimeStyle = iota
	TimeStyleMtime
	TimeStyleCtime
	TimeStyleBoth
)

// Config controls output formatting.
type Config struct {
	TimeStyle TimeStyle
	Unique    bool
	Print0    bool
}

// Emitter iterates a Store in stored order and writes selected entries.
type Emitter struct {
	store    *direntstore.Store
	inodes   *inodetable.Table
	selected *bitfield.Bitfield
	cfg      Config
}

// New builds an Emitter over the buffers a Scanner produced.
func New(store *direntstore.Store, inodes *inodetable.Table, selected *bitfield.Bitfield, cfg Config) *Emitter {
	return &Emitter{store: store, inodes: inodes, selected: selected, cfg: cfg}
}

// Emit writes every selected dirent to w, terminating each record with
// '\n' or, if cfg.Print0 is set, NUL. Path resolution failures are
// reported via warn and otherwise skipped; they do not stop emission.
func (e *Emitter) Emit(w io.Writer, warn func(error)) error {
	bw := bufio.NewWriter(w)
	defer bw.Flush()

	term := byte('\n')
	if e.cfg.Print0 {
		term = 0
	}

	off := 0
	total := e.store.Len()
	for off < total {
		d := e.store.At(off)
		recLen := e.store.RecordLenAt(off)

		ino := e.inodes.At(int(d.InoIdx)).Ino
		if !e.selected.Get(ino) {
			off += recLen
			continue
		}
		if e.cfg.Unique {
			e.selected.Clear(ino)
		}

		path, err := pathresolver.Resolve(e.store, off)
		if err != nil {
			warn(fmt.Errorf("emitter: resolving dirent at offset %d: %w", off, err))
			off += recLen
			continue
		}

		prefix := e.prefix(d.InoIdx)
		if _, err := bw.WriteString(prefix); err != nil {
			return err
		}
		if _, err := bw.WriteString(path); err != nil {
			return err
		}
		if err := bw.WriteByte(term); err != nil {
			return err
		}

		off += recLen
	}

	return bw.Flush()
}

// prefix formats the active timestamp columns for the inode referenced
// by inoIdx, each right-aligned in a 10-column decimal field followed by
// a single space, mtime before ctime when both are active.
func (e *Emitter) prefix(inoIdx uint32) string {
	if e.cfg.TimeStyle == TimeStyleNone {
		return ""
	}
	rec := e.inodes.At(int(inoIdx))
	switch e.cfg.TimeStyle {
	case TimeStyleMtime:
		return fmt.Sprintf("%10d ", rec.Time1)
	case TimeStyleCtime:
		return fmt.Sprintf("%10d ", rec.Time1)
	case TimeStyleBoth:
		return fmt.Sprintf("%10d %10d ", rec.Time1, rec.Time2)
	default:
		return ""
	}
}
