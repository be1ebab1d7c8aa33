package dvm

import (
	"encoding/binary"
	"fmt"

	"github.com/noxer/bytewriter"
)

// MBREntrySpec describes one partition table slot to stamp with
// FormatBlankMBR. A zero-value entry (Type 0x00) stamps an empty slot.
type MBREntrySpec struct {
	Status      byte
	Type        byte
	StartSector SectorCount
	NumSectors  SectorCount
}

// FormatBlankMBR stamps a minimal MBR into the first sectorSize bytes of
// image: up to four partition entries at offset 0x1BE and the 0xAA55
// signature at 0x1FE (spec.md §6, "On-disk formats consumed"). Boot code
// before offset 0x1BE is left as image already had it (normally zeroed
// by the caller). entries beyond the first 4 are ignored; fewer than 4
// are padded with empty slots.
func FormatBlankMBR(image []byte, sectorSize uint, entries []MBREntrySpec) error {
	if uint(len(image)) < sectorSize || sectorSize < mbrSignatureOffset+2 {
		return fmt.Errorf("dvm: image too small to hold an MBR (need %d bytes, got %d)", mbrSignatureOffset+2, len(image))
	}

	region := image[mbrPartitionsOffset:sectorSize]
	writer := bytewriter.New(region)

	for i := 0; i < 4; i++ {
		var spec MBREntrySpec
		if i < len(entries) {
			spec = entries[i]
		}
		entry := mbrPartitionEntry{
			Status:     spec.Status,
			Type:       spec.Type,
			StartLBA:   uint32(spec.StartSector),
			NumSectors: uint32(spec.NumSectors),
		}
		if err := binary.Write(writer, binary.LittleEndian, entry); err != nil {
			return fmt.Errorf("dvm: writing MBR entry %d: %w", i, err)
		}
	}

	return binary.Write(writer, binary.LittleEndian, uint16(mbrSignature))
}

// StampVBR writes just enough of a VBR into sector (which must be at
// least 512 bytes) that identifyVBR recognizes it as fstype ("vfat",
// "exfat", or "ntfs"). It's meant for building synthetic test fixtures
// without a full compressed disc image — see spec.md §8 scenarios S1 and
// S2.
func StampVBR(sector []byte, fstype string) error {
	if len(sector) < mbrSignatureOffset+2 {
		return fmt.Errorf("dvm: sector too small for a VBR (need %d bytes, got %d)", mbrSignatureOffset+2, len(sector))
	}

	sector[0] = 0xEB
	sector[1] = 0x00
	sector[2] = 0x90

	switch fstype {
	case "ntfs":
		copy(sector[3:11], "NTFS    ")
	case "exfat":
		copy(sector[3:11], "EXFAT   ")
	case "vfat":
		copy(sector[3:11], "MSDOS5.0")
		copy(sector[fat32TypeOffset:fat32TypeOffset+8], "FAT32   ")
	default:
		return fmt.Errorf("dvm: unrecognized fstype %q", fstype)
	}

	binary.LittleEndian.PutUint16(sector[mbrSignatureOffset:mbrSignatureOffset+2], mbrSignature)
	return nil
}
