package dvm

import (
	"io"

	"github.com/pkg/errors"
)

// PlatformInterface is the opaque closure triple a raw-device adapter is
// built from (spec.md §4.2, §9 design notes). Different host platforms
// expose wildly different block-device ABIs — one self-pointer argument
// per call, one global handle, one that needs an explicit startup/media
// check — so rather than modeling every variant, platform glue constructs
// one of these and hands it to NewRawDisc.
type PlatformInterface struct {
	// Startup initializes the underlying device and reports success.
	Startup func() bool
	// IsInserted reports whether removable media is currently present.
	// May be nil, in which case media is assumed always present.
	IsInserted func() bool
	// ReadSectors fills buffer (exactly count*SectorSize bytes) starting
	// at sector first.
	ReadSectors func(buffer []byte, first SectorCount, count SectorCount) bool
	// WriteSectors writes buffer (exactly count*SectorSize bytes)
	// starting at sector first.
	WriteSectors func(buffer []byte, first SectorCount, count SectorCount) bool
	// Shutdown releases the platform handle. May be nil.
	Shutdown func() bool

	// IOType identifies the device class (e.g. "sd_slot", "usb_msc").
	IOType string
	// Features reports this device's read/write/format capabilities.
	Features Features
	// SectorSize is the device's native sector size in bytes, normally
	// 512. Must be a power of two.
	SectorSize uint
	// NumSectors is the device's size if known at construction time, or
	// SectorCountUnknown if it must be resolved later by the prober
	// (the common case for MBR-partitioned removable media).
	NumSectors SectorCount
}

// rawDisc is the raw-device adapter, component C2: the thinnest possible
// Disc implementation, forwarding directly to a platform's block I/O
// routines.
type rawDisc struct {
	discBase
	iface PlatformInterface
}

// NewRawDisc constructs a Disc backed directly by a platform block device.
// It runs Startup and, if provided, IsInserted; a failure of either
// returns a nil Disc and an error instead of a partially-built one
// (spec.md §4.2: "on failure returns nothing").
func NewRawDisc(iface PlatformInterface) (Disc, error) {
	if iface.ReadSectors == nil {
		return nil, errors.New("dvm: PlatformInterface.ReadSectors is required")
	}
	if iface.SectorSize == 0 || iface.SectorSize&(iface.SectorSize-1) != 0 {
		return nil, errors.Errorf("dvm: sector size %d is not a power of two", iface.SectorSize)
	}

	if iface.Startup != nil && !iface.Startup() {
		return nil, errors.New("dvm: platform device failed to start up")
	}
	if iface.IsInserted != nil && !iface.IsInserted() {
		return nil, errors.New("dvm: no media present")
	}

	numSectors := iface.NumSectors
	if numSectors == 0 {
		numSectors = SectorCountUnknown
	}

	disc := &rawDisc{
		iface: iface,
	}
	disc.discBase = newDiscBase(iface.IOType, iface.Features, iface.SectorSize, numSectors, disc.destroy)
	return disc, nil
}

func (d *rawDisc) destroy() error {
	if d.iface.Shutdown != nil && !d.iface.Shutdown() {
		return errors.New("dvm: platform device failed to shut down cleanly")
	}
	return nil
}

func (d *rawDisc) ReadSectors(buffer []byte, first SectorCount, count SectorCount) error {
	if err := checkBounds(d.NumSectors(), first, count); err != nil {
		return err
	}
	if !d.iface.ReadSectors(buffer, first, count) {
		return errors.Errorf("dvm: read of %d sectors starting at %d failed", count, first)
	}
	return nil
}

func (d *rawDisc) WriteSectors(buffer []byte, first SectorCount, count SectorCount) error {
	if !d.Features().Has(FeatureCanWrite) {
		return errors.New("dvm: disc is not writable")
	}
	if err := checkBounds(d.NumSectors(), first, count); err != nil {
		return err
	}
	if !d.iface.WriteSectors(buffer, first, count) {
		return errors.Errorf("dvm: write of %d sectors starting at %d failed", count, first)
	}
	return nil
}

// Flush is a no-op for the raw adapter: every WriteSectors call already
// reached the platform device (spec.md §4.2).
func (d *rawDisc) Flush() error {
	return nil
}

// StreamPlatformInterface adapts an io.ReadWriteSeeker (a disc image file,
// an in-memory buffer, anything seekable) into a PlatformInterface, for
// platform glue that has a stream rather than a bespoke block-device ABI.
// ramdisc.go builds on this.
func StreamPlatformInterface(stream io.ReadWriteSeeker, sectorSize uint, ioType string, features Features) (PlatformInterface, error) {
	numSectors := SectorCountUnknown
	if end, err := stream.Seek(0, io.SeekEnd); err == nil {
		numSectors = SectorCount(uint64(end) / uint64(sectorSize))
	}
	if _, err := stream.Seek(0, io.SeekStart); err != nil {
		return PlatformInterface{}, errors.Wrap(err, "dvm: seeking stream to start")
	}

	read := func(buffer []byte, first SectorCount, count SectorCount) bool {
		offset := int64(first) * int64(sectorSize)
		if _, err := stream.Seek(offset, io.SeekStart); err != nil {
			return false
		}
		_, err := io.ReadFull(stream, buffer)
		return err == nil
	}

	write := func(buffer []byte, first SectorCount, count SectorCount) bool {
		offset := int64(first) * int64(sectorSize)
		if _, err := stream.Seek(offset, io.SeekStart); err != nil {
			return false
		}
		_, err := stream.Write(buffer)
		return err == nil
	}

	shutdown := func() bool {
		if closer, ok := stream.(io.Closer); ok {
			return closer.Close() == nil
		}
		return true
	}

	return PlatformInterface{
		Startup:      func() bool { return true },
		ReadSectors:  read,
		WriteSectors: write,
		Shutdown:     shutdown,
		IOType:       ioType,
		Features:     features,
		SectorSize:   sectorSize,
		NumSectors:   numSectors,
	}, nil
}
