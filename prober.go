package dvm

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/dsoprea/go-logging"
	"github.com/go-restruct/restruct"
)

// PartitionInfo describes one slot of a parsed MBR, or the single
// whole-disc pseudo-partition synthesized when sector 0 is itself a VBR
// (spec.md §3, "Partition info").
type PartitionInfo struct {
	// Index is the MBR slot, in [0,4), or 0 for a bare-VBR disc.
	Index int
	// Type is the MBR partition type byte. Zero for a bare-VBR disc.
	Type byte
	// FSType is the identified filesystem ("vfat", "exfat", "ntfs"), or
	// "" if identification wasn't requested or didn't match anything —
	// "do not auto-mount" (spec.md §4.4).
	FSType string
	// StartSector is this partition's first sector, disc-relative.
	StartSector SectorCount
	// NumSectors is this partition's length in sectors.
	NumSectors SectorCount
}

type mbrPartitionEntry struct {
	Status     byte
	CHSFirst   [3]byte
	Type       byte
	CHSLast    [3]byte
	StartLBA   uint32
	NumSectors uint32
}

// fatBPB covers the BIOS Parameter Block fields common to FAT12/FAT16
// boot sectors, enough to run the heuristic in spec.md §4.4. FAT32's
// extended BPB and exFAT/NTFS are identified by their OEM/type strings
// instead and never reach this struct.
type fatBPB struct {
	JumpBoot          [3]byte
	OEMName           [8]byte
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	NumRootEntries    uint16
	TotalSectors16    uint16
	MediaDescriptor   uint8
	SectorsPerFAT16   uint16
	SectorsPerTrack   uint16
	NumHeads          uint16
	HiddenSectors     uint32
	TotalSectors32    uint32
}

const (
	mbrSignatureOffset  = 0x1FE
	mbrPartitionsOffset = 0x1BE
	mbrPartitionSize    = 16
	mbrSignature        = 0xAA55
	fat32TypeOffset     = 0x52
)

// unpackBinary decodes raw into out using restruct's declarative struct
// layout decoding, recovering go-logging's PanicIf-driven panics into an
// ordinary error. This is the only place in the package that uses the
// panic/recover idiom; everywhere else just returns error.
func unpackBinary(raw []byte, out interface{}) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			if asErr, ok := errRaw.(error); ok {
				err = log.Wrap(asErr)
			} else {
				err = log.Errorf("dvm: panic decoding binary layout: %v", errRaw)
			}
		}
	}()

	unpackErr := restruct.Unpack(raw, binary.LittleEndian, out)
	log.PanicIf(unpackErr)
	return nil
}

func isPowerOfTwo(v uint) bool {
	return v != 0 && v&(v-1) == 0
}

// identifyVBR applies the VBR detection rules of spec.md §4.4 to a single
// 512-byte sector: jump prologue plus signature, then OEM/type string
// matching, then the FAT12/16 BPB heuristic as a fallback.
func identifyVBR(sector []byte) (fstype string, ok bool) {
	if len(sector) < mbrSignatureOffset+2 {
		return "", false
	}
	if binary.LittleEndian.Uint16(sector[mbrSignatureOffset:mbrSignatureOffset+2]) != mbrSignature {
		return "", false
	}

	switch sector[0] {
	case 0xE8, 0xE9, 0xEB:
	default:
		return "", false
	}

	if len(sector) >= 11 {
		oem := sector[3:11]
		switch {
		case bytes.Equal(oem, []byte("NTFS    ")):
			return "ntfs", true
		case bytes.Equal(oem, []byte("EXFAT   ")):
			return "exfat", true
		}
	}

	if len(sector) >= fat32TypeOffset+8 && bytes.Equal(sector[fat32TypeOffset:fat32TypeOffset+8], []byte("FAT32   ")) {
		return "vfat", true
	}

	var bpb fatBPB
	if len(sector) < 36 {
		return "", false
	}
	if err := unpackBinary(sector[:36], &bpb); err != nil {
		return "", false
	}

	if isPowerOfTwo(uint(bpb.BytesPerSector)) &&
		isPowerOfTwo(uint(bpb.SectorsPerCluster)) &&
		bpb.ReservedSectors > 0 &&
		(bpb.NumFATs == 1 || bpb.NumFATs == 2) &&
		bpb.NumRootEntries > 0 &&
		(bpb.TotalSectors16 >= 0x40 || bpb.TotalSectors32 >= 0x10000) &&
		bpb.SectorsPerFAT16 > 0 {
		return "vfat", true
	}

	return "", false
}

// ProbePartitions reads sector 0 of disc and identifies it as either a
// bare VBR (yielding one whole-disc partition) or an MBR (yielding up to
// four). If identifyFSType is set, each recorded MBR partition's own
// sector 0 is read and matched the same way (spec.md §4.4, "Per-partition
// fstype identification").
//
// A disc constructed with an unknown size (SectorCountUnknown) has that
// size resolved here, from the union of parsed partitions, exactly as
// spec.md §4.4's "Disc-size resolution" describes. This mutation must
// happen before the disc has more than one concurrent observer (spec.md
// §9, Open Question 3).
func ProbePartitions(disc Disc, identifyFSType bool) ([]PartitionInfo, error) {
	sectorSize := disc.SectorSize()
	sector := make([]byte, sectorSize)
	if err := disc.ReadSectors(sector, 0, 1); err != nil {
		return nil, fmt.Errorf("dvm: reading sector 0: %w", err)
	}

	if fstype, ok := identifyVBR(sector); ok {
		return []PartitionInfo{{
			Index:       0,
			FSType:      fstype,
			StartSector: 0,
			NumSectors:  disc.NumSectors(),
		}}, nil
	}

	if len(sector) < mbrSignatureOffset+2 ||
		binary.LittleEndian.Uint16(sector[mbrSignatureOffset:mbrSignatureOffset+2]) != mbrSignature {
		return nil, nil
	}

	var partitions []PartitionInfo
	var totalUsed SectorCount

	for i := 0; i < 4; i++ {
		off := mbrPartitionsOffset + i*mbrPartitionSize
		var entry mbrPartitionEntry
		if err := unpackBinary(sector[off:off+mbrPartitionSize], &entry); err != nil {
			return nil, fmt.Errorf("dvm: decoding MBR entry %d: %w", i, err)
		}

		if entry.Status != 0x00 && entry.Status != 0x80 {
			return nil, ErrMalformedTable
		}
		// Empty (0x00) and extended (0x05, 0x0F) entries are skipped;
		// descending into extended partitions is an explicit non-goal.
		if entry.Type == 0x00 || entry.Type == 0x05 || entry.Type == 0x0F {
			continue
		}

		start := SectorCount(entry.StartLBA)
		num := SectorCount(entry.NumSectors)
		if end := start + num; end > totalUsed {
			totalUsed = end
		}

		partitions = append(partitions, PartitionInfo{
			Index:       i,
			Type:        entry.Type,
			StartSector: start,
			NumSectors:  num,
		})
	}

	if disc.NumSectors() == SectorCountUnknown {
		if err := disc.ResolveUnknownSize(totalUsed); err != nil {
			return nil, err
		}
	} else if totalUsed > disc.NumSectors() {
		return nil, ErrOutOfBoundsPartitions
	}

	if identifyFSType {
		partSector := make([]byte, sectorSize)
		for i := range partitions {
			if err := disc.ReadSectors(partSector, partitions[i].StartSector, 1); err != nil {
				continue
			}
			if fstype, ok := identifyVBR(partSector); ok {
				partitions[i].FSType = fstype
			}
		}
	}

	return partitions, nil
}
