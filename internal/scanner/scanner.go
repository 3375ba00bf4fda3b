// Package scanner orchestrates the two inode-table passes and the
// parent-reference fix-up pass over a volumereader.Handle, building the
// InodeTable, DirentStore, and the is-directory/selected bitfields that
// the emitter later walks.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/extls-project/extls/internal/bitfield"
	"github.com/extls-project/extls/internal/direntstore"
	"github.com/extls-project/extls/internal/inodetable"
	"github.com/extls-project/extls/volumereader"
)

// rootIno is the conventional root-directory inode number in ext2/3/4.
const rootIno = 2

// ErrUnknownChildInode is returned by Pass2 when a directory entry names
// a child inode Pass1 never recorded. On a consistent, unmounted image
// this cannot happen; on a live mounted filesystem it means the inode
// was deleted or relinked between Pass1 and Pass2, or the volume is
// corrupt. Unlike per-record warnings, this aborts the scan.
var ErrUnknownChildInode = errors.New("scanner: dirent names unknown child inode")

// Config selects the scanner's optional behavior: which timestamp
// columns to carry, and an --after filter, if any.
type Config struct {
	ShowMtime bool
	ShowCtime bool
	After     *uint32 // nil means no filter: every used inode starts selected
}

func (c Config) timeMode() inodetable.TimeMode {
	switch {
	case c.ShowMtime && c.ShowCtime:
		return inodetable.TimeBoth
	case c.ShowMtime || c.ShowCtime:
		return inodetable.TimeOne
	default:
		return inodetable.TimeNone
	}
}

// Scanner owns the full lifetime of one scan: construct, Pass1, Pass2,
// FixUp, then hand its buffers to an emitter. It holds no state beyond
// a single run and is never reused across volumes.
type Scanner struct {
	vol volumereader.Handle
	cfg Config
	mode inodetable.TimeMode

	IsDir    *bitfield.Bitfield
	Selected *bitfield.Bitfield
	Inodes   *inodetable.Table
	Dirents  *direntstore.Store

	inodeCount uint32
}

// New constructs a Scanner bound to an already-open volume handle.
func New(vol volumereader.Handle, cfg Config) *Scanner {
	inodeCount := vol.InodeCount()
	return &Scanner{
		vol:        vol,
		cfg:        cfg,
		mode:       cfg.timeMode(),
		IsDir:      bitfield.New(int(inodeCount) + 1),
		Selected:   bitfield.New(int(inodeCount) + 1),
		Inodes:     inodetable.New(cfg.timeMode()),
		Dirents:    direntstore.New(),
		inodeCount: inodeCount,
	}
}

// Pass1 scans every inode record the volume produces, in inode-number
// order, recording each used inode in the InodeTable, flagging
// directories in IsDir, and flagging inodes that satisfy the --after
// filter (or all of them, if no filter is set) in Selected. Every error
// from the iterator's Next, other than end-of-scan, is passed to warn and
// the scan continues; only a failure to open the inode scan is returned.
func (s *Scanner) Pass1(ctx context.Context, warn func(error)) error {
	if s.cfg.After == nil {
		s.Selected.Fill(true)
	}

	firstUsable := s.vol.FirstUsableInode()

	it, err := s.vol.ScanInodes(ctx)
	if err != nil {
		return fmt.Errorf("scanner: opening inode scan: %w", err)
	}

	for {
		rec, err := it.Next()
		if err != nil {
			if errors.Is(err, volumereader.ErrIterationDone) || errors.Is(err, io.EOF) {
				break
			}
			warn(fmt.Errorf("scanner: inode scan record error: %w", err))
			continue
		}

		if rec.Ino == 0 {
			break
		}
		if rec.Ino < firstUsable && rec.Ino != rootIno {
			continue
		}
		if rec.LinksCount == 0 {
			continue
		}

		if rec.IsDir {
			s.IsDir.Set(rec.Ino)
		}

		if s.cfg.After != nil {
			if rec.Mtime >= *s.cfg.After || rec.Ctime >= *s.cfg.After {
				s.Selected.Set(rec.Ino)
			}
		}

		t1, t2 := s.packTimes(rec)
		s.Inodes.Append(rec.Ino, t1, t2)
	}

	return nil
}

// packTimes maps an inode record's on-disk mtime/ctime onto the table's
// time1/time2 slots according to which columns were requested: when
// only one of --show-mtime/--show-ctime is active, that one value
// occupies time1 and time2 is unused, matching the stride inodetable
// chooses for TimeOne mode.
func (s *Scanner) packTimes(rec volumereader.InodeRecord) (time1, time2 uint32) {
	switch {
	case s.cfg.ShowMtime && s.cfg.ShowCtime:
		return rec.Mtime, rec.Ctime
	case s.cfg.ShowMtime:
		return rec.Mtime, 0
	case s.cfg.ShowCtime:
		return rec.Ctime, 0
	default:
		return 0, 0
	}
}

// Pass2 iterates the directory entries of every inode flagged in IsDir
// and appends a dirent record to DirentStore for each child, recording
// the first-observed name as each child's canonical dirent_offset.
// parent_idx is written as an InodeTable index at this stage; FixUp
// rewrites it to a DirentStore offset afterward. A dirent naming a child
// inode Pass1 never recorded is fatal (wraps ErrUnknownChildInode), not a
// per-record warning: on a live mounted filesystem it signals the inode
// was deleted or relinked mid-scan, which the caller must surface
// distinctly rather than silently skip.
func (s *Scanner) Pass2(ctx context.Context, warn func(error)) error {
	count := s.Inodes.Count()
	for dirIdx := 0; dirIdx < count; dirIdx++ {
		rec := s.Inodes.At(dirIdx)
		if !s.IsDir.Get(rec.Ino) {
			continue
		}

		dirIno := rec.Ino
		var lookupErr error
		err := s.vol.IterateDir(ctx, dirIno, func(childIno uint32, name string, fileType uint8) bool {
			if childIno == dirIno && childIno != rootIno {
				return true // "." self-entry, except the root's own "." is kept below
			}
			if name == ".." {
				return true
			}

			childIdx, ok := s.Inodes.Lookup(childIno)
			if !ok {
				lookupErr = fmt.Errorf("%w: inode %d names child inode %d", ErrUnknownChildInode, dirIno, childIno)
				return false
			}

			offset := s.Dirents.Len()

			var nameBytes []byte
			if dirIno == rootIno && childIno == rootIno {
				nameBytes = nil // root sentinel: empty name
			} else {
				nameBytes = []byte(name)
			}

			s.Dirents.Append(uint32(childIdx), uint32(dirIdx), nameBytes)
			s.Inodes.SetDirentOffset(childIdx, uint32(offset))

			return true
		})
		if lookupErr != nil {
			return lookupErr
		}
		if err != nil {
			return fmt.Errorf("scanner: iterating directory inode %d: %w", dirIno, err)
		}
	}
	return nil
}

// FixUp rewrites every dirent's parent_idx field in place from an
// InodeTable index to the DirentStore byte offset of that parent
// inode's own dirent record. After this pass PathResolver no longer
// needs the InodeTable: the graph is self-contained inside DirentStore.
// The root dirent's parent reference resolves to its own offset; this
// is intentional (see package pathresolver for how termination is
// detected without relying on a cycle check).
func (s *Scanner) FixUp() {
	off := 0
	total := s.Dirents.Len()
	for off < total {
		d := s.Dirents.At(off)
		parentTableIdx := int(d.ParentRef)
		parentDirentOffset := s.Inodes.At(parentTableIdx).DirentOffset
		s.Dirents.SetParentRef(off, parentDirentOffset)
		off += s.Dirents.RecordLenAt(off)
	}
}
