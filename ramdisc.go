package dvm

import (
	"github.com/pkg/errors"
	"github.com/xaionaro-go/bytesextra"
)

// NewRAMDisc builds a Disc backed entirely by memory: an "io_type" of
// "ram_disk" over a zero-filled buffer of totalSectors*sectorSize bytes.
// It's the Go-portable stand-in for the original source's MEMORY disc_io
// used for homebrew ROM-embedded filesystem images, and it's the
// workhorse for tests that want a real Disc without a backing file.
func NewRAMDisc(sectorSize uint, totalSectors SectorCount) (Disc, error) {
	if totalSectors == SectorCountUnknown {
		return nil, errors.New("dvm: a RAM disc must have a known size")
	}
	return NewRAMDiscFromImage(sectorSize, make([]byte, uint64(totalSectors)*uint64(sectorSize)))
}

// NewRAMDiscFromImage builds a Disc over a pre-existing in-memory image,
// e.g. a decompressed test fixture. image's length must be an exact
// multiple of sectorSize.
func NewRAMDiscFromImage(sectorSize uint, image []byte) (Disc, error) {
	if uint64(len(image))%uint64(sectorSize) != 0 {
		return nil, errors.Errorf(
			"dvm: image of %d bytes is not a multiple of sector size %d",
			len(image), sectorSize,
		)
	}

	stream := bytesextra.NewReadWriteSeeker(image)
	iface, err := StreamPlatformInterface(
		stream,
		sectorSize,
		"ram_disk",
		FeatureCanRead|FeatureCanWrite|FeatureCanFormat,
	)
	if err != nil {
		return nil, err
	}
	return NewRawDisc(iface)
}
