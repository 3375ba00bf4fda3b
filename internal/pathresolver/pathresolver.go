// Package pathresolver reconstructs a full pathname for a DirentStore
// entry by walking parent references back to the root sentinel.
package pathresolver

import (
	"errors"

	"github.com/extls-project/extls/internal/direntstore"
)

// PathMax bounds the reconstructed path buffer, matching the traditional
// POSIX PATH_MAX.
const PathMax = 4096

// maxHops bounds the number of parent hops a resolution may take before
// it is considered a runaway chain rather than a deep but legitimate
// tree.
const maxHops = 255

var (
	// ErrPathTooLong is returned when the reconstructed path would not
	// fit in a PathMax buffer.
	ErrPathTooLong = errors.New("pathresolver: path too long")
	// ErrTooDeep is returned when resolution exceeds maxHops parent
	// hops without reaching the root sentinel.
	ErrTooDeep = errors.New("pathresolver: too many path components")
)

// Resolve reconstructs the full path of the dirent at byte offset off in
// store, by walking parent_ref links back to the root (identified by an
// empty name, never by a cycle check — the fixed-up root dirent's own
// parent_ref points back at itself by construction).
func Resolve(store *direntstore.Store, off int) (string, error) {
	var buf [PathMax]byte
	pos := PathMax
	buf[pos-1] = 0
	pos--

	d := store.At(off)
	i := 0
	for {
		isRoot := len(d.Name) == 0
		if i > 0 || isRoot {
			if pos == 0 {
				return "", ErrPathTooLong
			}
			pos--
			buf[pos] = '/'
		}
		if i > maxHops {
			return "", ErrTooDeep
		}
		if isRoot {
			break
		}
		if pos < len(d.Name) {
			return "", ErrPathTooLong
		}
		pos -= len(d.Name)
		copy(buf[pos:], d.Name)

		d = store.At(int(d.ParentRef))
		i++
	}

	return string(buf[pos : PathMax-1]), nil
}
