package dvm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/hashicorp/go-multierror"
)

// ProbeMountDisc is the top-level probe-and-mount entry point (spec.md
// §4.7, component C7). It reads up to four partitions from disc with
// fstype identification and mounts each recognized one under a name
// derived from basename: slot 0 keeps basename itself; slots 1-3 append
// their slot digit. If no partitions are found at all, it falls back to
// a single whole-disc mount attempt as exfat (spec.md §7, UnknownFs) —
// the pragmatic case of unpartitioned removable media. It returns the
// number of volumes actually mounted.
//
// A malformed MBR status byte (spec.md §7, "MalformedTable") is treated
// the same as finding zero partitions, since spec.md's own taxonomy
// describes that case as "zero partitions returned; disc left intact":
// it still falls through to the whole-disc exfat attempt rather than
// aborting the probe outright.
func (m *VolumeManager) ProbeMountDisc(basename string, disc Disc) (int, error) {
	partitions, err := ProbePartitions(disc, true)
	if err != nil && !errors.Is(err, ErrMalformedTable) {
		return 0, err
	}

	if len(partitions) == 0 {
		if _, err := m.MountVolume(basename, disc, 0, "exfat"); err != nil {
			return 0, nil
		}
		return 1, nil
	}

	mounted := 0
	for _, part := range partitions {
		if part.FSType == "" {
			continue
		}
		name := basename
		if part.Index > 0 {
			name = basename + strconv.Itoa(part.Index)
		}
		if _, err := m.MountVolume(name, disc, part.StartSector, part.FSType); err == nil {
			mounted++
		}
	}
	return mounted, nil
}

// ProbeMountDiscIface builds a raw-device adapter from iface, optionally
// wraps it in a sector cache, and runs ProbeMountDisc over the result
// (spec.md §4.7). A nil/failed platform interface yields zero mounts
// rather than an error, matching the source's "null → 0 mounts". If
// nothing ends up mounted, the disc reference taken here is released to
// balance it (the probe itself never keeps a share unless a volume holds
// one).
func (m *VolumeManager) ProbeMountDiscIface(basename string, iface PlatformInterface, cachePages, sectorsPerPage uint) (int, error) {
	raw, err := NewRawDisc(iface)
	if err != nil {
		return 0, nil
	}

	disc := raw
	if cachePages != 0 {
		disc = NewCache(raw, cachePages, sectorsPerPage)
	}

	mounted, err := m.ProbeMountDisc(basename, disc)
	if err != nil {
		_ = disc.RemoveUser()
		return 0, err
	}
	if mounted == 0 {
		_ = disc.RemoveUser()
	}
	return mounted, nil
}

// PlatformDisc names one statically-known platform disc Init should try
// to probe and mount.
type PlatformDisc struct {
	Name      string
	Interface PlatformInterface
}

// SetWorkingDirFromArgv0 changes the process's working directory to the
// directory component of argv0 — the running executable's own path.
// This is the portable rendition of the source's _dvmSetAppWorkingDir,
// which lets an application started from, say, "sd:/apps/foo/foo.nds"
// use relative paths as if it had been launched from "sd:/apps/foo/".
func SetWorkingDirFromArgv0(argv0 string) error {
	dir := filepath.Dir(argv0)
	if dir == "" || dir == "." {
		return nil
	}
	return os.Chdir(dir)
}

// Init probes and mounts every disc in platforms (supplemented feature,
// recovered from dvm_calico.c/dvm_libnds.c's Init/InitDefault). If
// cfg.SetAppCWDir is set, it also calls SetWorkingDirFromArgv0(argv0)
// once probing completes. Per-disc and working-directory failures are
// collected rather than aborting the whole pass, so one bad disc doesn't
// prevent the rest from mounting; callers inspect the returned error for
// diagnostics.
func Init(manager *VolumeManager, cfg Config, argv0 string, platforms []PlatformDisc) (int, error) {
	var result *multierror.Error
	total := 0

	for _, p := range platforms {
		mounted, err := manager.ProbeMountDiscIface(p.Name, p.Interface, cfg.CachePages, cfg.SectorsPerPage)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("dvm: probing %q: %w", p.Name, err))
			continue
		}
		total += mounted
	}

	if cfg.SetAppCWDir {
		if err := SetWorkingDirFromArgv0(argv0); err != nil {
			result = multierror.Append(result, fmt.Errorf("dvm: setting working directory: %w", err))
		}
	}

	return total, result.ErrorOrNil()
}

// InitDefault is Init with DefaultConfig().
func InitDefault(manager *VolumeManager, argv0 string, platforms []PlatformDisc) (int, error) {
	return Init(manager, DefaultConfig(), argv0, platforms)
}
