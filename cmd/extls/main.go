// Command extls lists every pathname reachable from an ext2/3/4
// filesystem's inode table, bypassing directory-tree traversal: it
// walks the inode table and the on-disk directory blocks directly,
// reconstructs one path per dirent, and prints them to stdout. It is
// meant to feed a downstream replication driver that consumes
// `<mtime> <ctime> <path>\0` records, but is equally usable on its own
// as a fast "every file on this volume" lister.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/pkg/xattr"
	"github.com/sirupsen/logrus"
	timesv1 "gopkg.in/djherbis/times.v1"

	"github.com/extls-project/extls/filesystem/ext4"
	"github.com/extls-project/extls/internal/emitter"
	"github.com/extls-project/extls/internal/scanner"
	"github.com/extls-project/extls/util"
	"github.com/extls-project/extls/util/timestamp"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

// Exit codes match the contract the downstream replication driver and
// any wrapping scripts are written against. 2 is intentionally absent:
// it was never assigned in the original numbering and is left as a gap
// rather than renumbered, to keep the table stable for scripts that
// already hardcode it.
const (
	exitSuccess             = 0
	exitMissingArgument     = 1
	exitStatFailure         = 3
	exitDeviceLookupFailure = 4
	exitFilesystemOpen      = 5
	exitBitfieldAlloc       = 6
	exitInodeScanOpen       = 7
	exitDirIteration        = 8
	exitNotMountpoint       = 9
	exitUnknownOption       = 10
	exitBadAfterValue       = 11
)

type options struct {
	print0      bool
	after       *uint32
	showCtime   bool
	showMtime   bool
	debug       bool
	image       bool
	mountpoint  bool
	unique      bool
	showVersion bool
	path        string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr *os.File) int {
	opts, code := parseFlags(args, stderr)
	if code >= 0 {
		return code
	}

	log := logrus.New()
	log.SetOutput(stderr)
	if opts.debug {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.WarnLevel)
	}

	log.WithField("scan_started", timestamp.GetTime()).Debug("extls starting")

	info, err := statPath(opts.path)
	if err != nil {
		log.WithError(err).Error("cannot stat path")
		return exitStatFailure
	}

	if opts.mountpoint {
		root, err := isFsRoot(opts.path)
		if err != nil {
			log.WithError(err).Error("cannot determine whether path is a filesystem root")
			return exitStatFailure
		}
		if !root {
			log.Error("path is not the root of its filesystem")
			return exitNotMountpoint
		}
		logHostXattrDiagnostics(log, opts.path)
		logHostTimesDiagnostics(log, opts.path)
	}

	devicePath := opts.path
	if !opts.image {
		devicePath, err = resolveBackingDevice(opts.path, info)
		if err != nil {
			log.WithError(err).Error("cannot resolve backing device")
			return exitDeviceLookupFailure
		}
	}
	log.WithField("device", devicePath).Debug("resolved backing device")

	vol, err := ext4.Open(devicePath, true)
	if err != nil {
		log.WithError(err).Error("cannot open filesystem")
		if opts.debug {
			dumpSuperblockRegion(log, devicePath)
		}
		return exitFilesystemOpen
	}
	defer vol.Close()

	sc := scanner.New(vol, scanner.Config{
		ShowMtime: opts.showMtime,
		ShowCtime: opts.showCtime,
		After:     opts.after,
	})

	ctx := context.Background()
	warn := func(err error) { log.WithError(err).Warn("continuing past error") }

	if err := sc.Pass1(ctx, warn); err != nil {
		log.WithError(err).Error("inode scan failed")
		return exitInodeScanOpen
	}
	log.WithField("inodes", sc.Inodes.Count()).Debug("pass 1 complete")

	if err := sc.Pass2(ctx, warn); err != nil {
		if errors.Is(err, scanner.ErrUnknownChildInode) {
			log.WithError(err).Error("inode lookup failed")
			return exitUnknownOption
		}
		log.WithError(err).Error("directory iteration failed")
		return exitDirIteration
	}
	log.WithField("dirents", sc.Dirents.Len()).Debug("pass 2 complete")

	sc.FixUp()

	em := emitter.New(sc.Dirents, sc.Inodes, sc.Selected, emitter.Config{
		TimeStyle: timeStyle(opts.showMtime, opts.showCtime),
		Unique:    opts.unique,
		Print0:    opts.print0,
	})

	if err := em.Emit(stdout, warn); err != nil {
		log.WithError(err).Error("emit failed")
		return exitDirIteration
	}

	return exitSuccess
}

func timeStyle(showMtime, showCtime bool) emitter.TimeStyle {
	switch {
	case showMtime && showCtime:
		return emitter.TimeStyleBoth
	case showMtime:
		return emitter.TimeStyleMtime
	case showCtime:
		return emitter.TimeStyleCtime
	default:
		return emitter.TimeStyleNone
	}
}

// parseFlags parses args into an options value. A non-negative second
// return value means the caller should exit immediately with that code
// (help/version/usage-error paths); -1 means parsing succeeded and opts
// is ready to use.
func parseFlags(args []string, stderr *os.File) (options, int) {
	fs := flag.NewFlagSet("extls", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var opts options
	var afterStr string

	fs.BoolVar(&opts.print0, "0", false, "terminate each record with NUL instead of newline")
	fs.BoolVar(&opts.print0, "print0", false, "terminate each record with NUL instead of newline")
	fs.StringVar(&afterStr, "a", "", "only emit inodes with mtime or ctime >= T (unix seconds)")
	fs.StringVar(&afterStr, "after", "", "only emit inodes with mtime or ctime >= T (unix seconds)")
	fs.BoolVar(&opts.showCtime, "c", false, "prefix each line with ctime")
	fs.BoolVar(&opts.showCtime, "show-ctime", false, "prefix each line with ctime")
	fs.BoolVar(&opts.showMtime, "m", false, "prefix each line with mtime")
	fs.BoolVar(&opts.showMtime, "show-mtime", false, "prefix each line with mtime")
	fs.BoolVar(&opts.debug, "d", false, "enable progress diagnostics on stderr")
	fs.BoolVar(&opts.debug, "debug", false, "enable progress diagnostics on stderr")
	fs.BoolVar(&opts.image, "i", false, "interpret the path as a filesystem image file")
	fs.BoolVar(&opts.image, "image", false, "interpret the path as a filesystem image file")
	fs.BoolVar(&opts.mountpoint, "p", false, "require the path to be the root of its filesystem")
	fs.BoolVar(&opts.mountpoint, "mountpoint", false, "require the path to be the root of its filesystem")
	fs.BoolVar(&opts.unique, "u", false, "emit at most one pathname per inode")
	fs.BoolVar(&opts.unique, "unique", false, "emit at most one pathname per inode")
	fs.BoolVar(&opts.showVersion, "v", false, "print version and exit")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return options{}, exitSuccess
		}
		return options{}, exitUnknownOption
	}

	if opts.showVersion {
		fmt.Fprintf(stderr, "extls %s\n", version)
		return options{}, exitSuccess
	}

	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: extls [flags] <device|image|path>")
		fs.PrintDefaults()
		return options{}, exitMissingArgument
	}
	opts.path = fs.Arg(0)

	if afterStr != "" {
		v, err := strconv.ParseUint(afterStr, 10, 32)
		if err != nil {
			fmt.Fprintf(stderr, "invalid --after value %q: %v\n", afterStr, err)
			return options{}, exitBadAfterValue
		}
		t := uint32(v)
		opts.after = &t
	}

	return opts, -1
}

// logHostXattrDiagnostics records the extended attribute names present
// on a host-mounted path, in --debug --mountpoint mode only: a quick
// cross-check that the mount this tool resolved from path is actually
// the one the caller expects, independent of anything the ext4 decoder
// itself reads.
func logHostXattrDiagnostics(log *logrus.Logger, path string) {
	names, err := xattr.List(path)
	if err != nil {
		log.WithError(err).Debug("xattr.List unavailable for mountpoint diagnostics")
		return
	}
	log.WithField("xattrs", names).Debug("host mountpoint xattrs")
}

// logHostTimesDiagnostics records the host filesystem's own view of
// path's timestamps, letting --debug output be cross-checked against
// the mtime/ctime columns this tool reads from the raw inode table.
func logHostTimesDiagnostics(log *logrus.Logger, path string) {
	t, err := timesv1.Stat(path)
	if err != nil {
		log.WithError(err).Debug("times.Stat unavailable for mountpoint diagnostics")
		return
	}
	fields := logrus.Fields{"mtime": t.ModTime()}
	if t.HasChangeTime() {
		fields["ctime"] = t.ChangeTime()
	}
	log.WithFields(fields).Debug("host mountpoint timestamps")
}

// superblockRegionSize covers the boot sector plus the 1024-byte
// superblock, enough to show whether the magic number is simply at the
// wrong offset or the device genuinely isn't ext2/3/4.
const superblockRegionSize = 2048

// dumpSuperblockRegion hex-dumps the bytes at the conventional
// superblock location, for --debug diagnostics when filesystem opening
// fails. Best-effort: a second failure here is logged and swallowed
// rather than compounding the original error.
func dumpSuperblockRegion(log *logrus.Logger, devicePath string) {
	f, err := os.Open(devicePath)
	if err != nil {
		log.WithError(err).Debug("could not reopen device for superblock dump")
		return
	}
	defer f.Close()

	buf := make([]byte, superblockRegionSize)
	n, err := f.ReadAt(buf, 0)
	if err != nil && n == 0 {
		log.WithError(err).Debug("could not read superblock region for dump")
		return
	}

	log.Debug("raw superblock region:\n" + util.DumpByteSlice(buf[:n], 16, true, true, false, nil))
}
