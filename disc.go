package dvm

import (
	"sync/atomic"
)

// SectorCount counts sectors, or expresses a sector offset. SectorCountUnknown
// is the "unknown" sentinel a raw adapter reports for NumSectors until the
// partition prober resolves it from the MBR/VBR (see ResolveUnknownSize).
type SectorCount uint64

// SectorCountUnknown is the all-ones sentinel described in spec.md §4.2: a
// freshly constructed raw adapter doesn't know its own size until something
// reads the MBR/VBR and tells it.
const SectorCountUnknown = SectorCount(^uint64(0))

// Features is a bitmask of capabilities a Disc exposes to its consumers.
type Features uint8

const (
	// FeatureCanRead means ReadSectors is expected to succeed.
	FeatureCanRead Features = 1 << iota
	// FeatureCanWrite means WriteSectors is expected to succeed.
	FeatureCanWrite
	// FeatureCanFormat means the underlying medium supports being
	// reformatted by a driver's mkfs-style recovery path.
	FeatureCanFormat
)

// Has reports whether all bits of want are set in f.
func (f Features) Has(want Features) bool {
	return f&want == want
}

// Disc is the polymorphic block-disc abstraction (spec.md §4.1, component
// C1). A Disc is shared-ownership: AddUser/RemoveUser maintain a reference
// count, and the last RemoveUser call triggers teardown. Both the raw
// adapter (C2) and the sector cache (C3) implement Disc; a cache wraps
// another Disc and is itself one, so callers never need to know whether
// they're talking to a raw device or a cache sitting in front of one.
//
// No method here is safe for concurrent use by multiple goroutines unless
// the concrete implementation says otherwise. The sector cache serializes
// its own operations internally (spec.md §4.3); a raw disc does not, and
// relies on its caller — normally a cache, sometimes a single-threaded
// driver — to serialize access.
type Disc interface {
	// ReadSectors reads count sectors starting at first into buffer, which
	// must be exactly count*SectorSize() bytes long.
	ReadSectors(buffer []byte, first SectorCount, count SectorCount) error

	// WriteSectors writes count sectors starting at first from buffer,
	// which must be exactly count*SectorSize() bytes long.
	WriteSectors(buffer []byte, first SectorCount, count SectorCount) error

	// Flush pushes any buffered writes down to the underlying medium. For
	// a raw disc this is normally a no-op; for a cache it's the write-back
	// point described in spec.md §4.3.
	Flush() error

	// AddUser increments the shared-ownership reference count.
	AddUser()

	// RemoveUser decrements the reference count. When it reaches zero,
	// the Disc flushes and tears itself down, releasing whatever it holds
	// (an inner Disc's share, a platform handle, a page buffer).
	RemoveUser() error

	// IOType identifies the kind of underlying device (e.g. "sd_slot",
	// "usb_msc", "ram_disk"). Opaque to this package; meaningful to
	// device-class profiles in devicetypes.go and to diagnostics.
	IOType() string

	// Features reports this disc's capability bits.
	Features() Features

	// NumSectors reports the disc's size. Returns SectorCountUnknown if
	// the size hasn't been resolved yet (spec.md §4.2, §4.4).
	NumSectors() SectorCount

	// SectorSize reports the size of one sector, in bytes. Always a power
	// of two, fixed for the lifetime of the Disc.
	SectorSize() uint

	// ResolveUnknownSize sets NumSectors once, when it was previously
	// SectorCountUnknown. Calling it when the size is already known is a
	// caller error. This exists solely for the partition prober (spec.md
	// §4.4) and must not be called once more than one goroutine can
	// observe the Disc (Open Question 3 in spec.md §9).
	ResolveUnknownSize(total SectorCount) error
}

// discBase is embedded by every Disc implementation in this package. It
// supplies the reference-counting and static-attribute bookkeeping common
// to all of them, mirroring the "vtable + base struct" pattern of the
// source library, reshaped as embedding instead of struct inheritance.
type discBase struct {
	userCount  int32
	ioType     string
	features   Features
	sectorSize uint
	numSectors uint64 // atomic: SectorCount, may start at SectorCountUnknown
	onDestroy  func() error
}

func newDiscBase(ioType string, features Features, sectorSize uint, numSectors SectorCount, onDestroy func() error) discBase {
	return discBase{
		userCount:  1,
		ioType:     ioType,
		features:   features,
		sectorSize: sectorSize,
		numSectors: uint64(numSectors),
		onDestroy:  onDestroy,
	}
}

func (b *discBase) AddUser() {
	atomic.AddInt32(&b.userCount, 1)
}

func (b *discBase) RemoveUser() error {
	if atomic.AddInt32(&b.userCount, -1) == 0 {
		if b.onDestroy != nil {
			return b.onDestroy()
		}
	}
	return nil
}

func (b *discBase) IOType() string {
	return b.ioType
}

func (b *discBase) Features() Features {
	return b.features
}

func (b *discBase) NumSectors() SectorCount {
	return SectorCount(atomic.LoadUint64(&b.numSectors))
}

func (b *discBase) SectorSize() uint {
	return b.sectorSize
}

func (b *discBase) ResolveUnknownSize(total SectorCount) error {
	if !atomic.CompareAndSwapUint64(&b.numSectors, uint64(SectorCountUnknown), uint64(total)) {
		return ErrSizeAlreadyKnown
	}
	return nil
}

// checkBounds validates a [first, first+count) sector range against a
// disc's known size, returning the boolean-at-the-boundary OutOfBounds
// condition from spec.md §7 as a Go error.
func checkBounds(numSectors SectorCount, first, count SectorCount) error {
	if count == 0 {
		return nil
	}
	if first >= numSectors || count > numSectors-first {
		return ErrOutOfBounds
	}
	return nil
}
