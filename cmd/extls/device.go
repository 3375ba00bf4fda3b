package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// rootInodeNumber is the conventional root-directory inode number any
// ext2/3/4 filesystem assigns its own root; the mountpoint check below
// compares the host's inode number for the path against it.
const rootInodeNumber = 2

// statPath stats the positional path argument. Any failure here (path
// does not exist, permission denied, ...) is the "cannot stat path"
// fatal-startup case.
func statPath(path string) (os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return info, nil
}

// isFsRoot reports whether path is itself the root of whatever
// filesystem it lives on, per the host kernel's own inode numbering —
// the check --mountpoint performs before a volume is ever opened.
func isFsRoot(path string) (bool, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return st.Ino == rootInodeNumber, nil
}

// resolveBackingDevice maps path to the block device (or image file)
// that should be handed to the volume opener. It is only called when
// --image is not given; an image file passed with --image goes to the
// opener unchanged.
//
//   - a device is used as-is;
//   - anything else (a directory, or a regular file on a mounted
//     ext2/3/4 filesystem) is resolved to its backing block device by
//     matching the path's device ID against the kernel's mount table.
func resolveBackingDevice(path string, info os.FileInfo) (string, error) {
	mode := info.Mode()
	if mode&os.ModeDevice != 0 {
		return path, nil
	}

	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return "", fmt.Errorf("device lookup: stat %s: %w", path, err)
	}

	dev, err := deviceForStDev(st.Dev)
	if err != nil {
		return "", fmt.Errorf("device lookup for %s: %w", path, err)
	}
	return dev, nil
}

// deviceForStDev scans /proc/self/mountinfo for the mount entry whose
// major:minor device ID matches devID, and returns its backing device
// source field. mountinfo's format is documented in proc(5); the fields
// this needs are the third ("major:minor") and, after the " - "
// separator, the second-to-last (mount source).
func deviceForStDev(devID uint64) (string, error) {
	wantMajor := unix.Major(devID)
	wantMinor := unix.Minor(devID)

	f, err := os.Open("/proc/self/mountinfo")
	if err != nil {
		return "", fmt.Errorf("opening mountinfo: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 5 {
			continue
		}
		majorMinor := fields[2]
		sep := strings.Index(majorMinor, ":")
		if sep < 0 {
			continue
		}
		major, err1 := strconv.ParseUint(majorMinor[:sep], 10, 32)
		minor, err2 := strconv.ParseUint(majorMinor[sep+1:], 10, 32)
		if err1 != nil || err2 != nil || uint32(major) != wantMajor || uint32(minor) != wantMinor {
			continue
		}

		for i, fld := range fields {
			if fld == "-" && i+2 < len(fields) {
				return fields[i+2], nil // fields[i+1] is the fs type, fields[i+2] its source
			}
		}
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("scanning mountinfo: %w", err)
	}

	return "", fmt.Errorf("no mountinfo entry for device %d:%d", wantMajor, wantMinor)
}
