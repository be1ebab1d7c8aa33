package dvm

import stderrors "errors"

// Sentinel errors for the core disc/cache/prober layer (spec.md §7). These
// are plain errors, not the errors.DvmError/DriverError taxonomy: that
// taxonomy only appears at the FsDriver/volume-manager boundary, where
// mount/unmount results need to read as POSIX-flavored failures to a
// driver author. Everything below that boundary just returns error.
var (
	// ErrOutOfBounds is returned when a sector range exceeds a disc's size.
	ErrOutOfBounds = stderrors.New("dvm: sector range exceeds disc size")

	// ErrSizeAlreadyKnown is returned by ResolveUnknownSize when called on
	// a disc whose size isn't the SectorCountUnknown sentinel.
	ErrSizeAlreadyKnown = stderrors.New("dvm: disc size already resolved")

	// ErrMalformedTable is returned by the prober when an MBR's status
	// byte isn't 0x00 or 0x80.
	ErrMalformedTable = stderrors.New("dvm: malformed partition table")

	// ErrOutOfBoundsPartitions is returned by the prober when the parsed
	// partitions extend past a disc's known size.
	ErrOutOfBoundsPartitions = stderrors.New("dvm: partition table exceeds disc bounds")

	// ErrNoDriver is returned by the volume manager when no FsDriver is
	// registered for a requested fstype.
	ErrNoDriver = stderrors.New("dvm: no driver registered for fstype")

	// ErrRegistryFull describes a registry whose fixed capacity (8 slots,
	// spec.md §4.5) is exhausted. Registry.Register reports that case by
	// returning false; it does not return this value.
	ErrRegistryFull = stderrors.New("dvm: driver registry is full")

	// ErrNotMounted is returned by unmount operations when no volume is
	// installed under the requested name.
	ErrNotMounted = stderrors.New("dvm: no volume mounted under that name")

	// ErrForeignDeviceEntry is returned by UnmountVolume when the structural
	// sentinel check (spec.md §4.6, §9 Open Question 4) shows the named
	// device-table entry wasn't produced by this package's volume
	// manager.
	ErrForeignDeviceEntry = stderrors.New("dvm: device entry was not installed by this volume manager")

	// ErrNoFstypeIdentified names the case of a partition whose filesystem
	// can't be identified. No function in this package returns it:
	// ProbePartitions leaves such a partition's FSType empty and
	// ProbeMountDisc skips it; the whole-disc exfat attempt (spec.md §4.7)
	// runs only when no partitions are found at all.
	ErrNoFstypeIdentified = stderrors.New("dvm: no fstype could be identified")
)
