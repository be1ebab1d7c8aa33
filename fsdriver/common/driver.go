package common

import "github.com/blockvol/dvm"

// Base wraps a driver's real mount/unmount logic with the disc-share
// lifecycle the FAT driver always performs: AddUser when a volume is
// mounted, RemoveUser when it's unmounted (SPEC_FULL.md supplemented
// feature #2, fat_driver.c). A driver built on Base only writes the
// on-disk-format-specific parts of Mount/Unmount; Base takes care of
// keeping dvm.Disc's own reference count (spec.md §4.1, component C1)
// consistent around them.
//
// Drivers that manage their own disc share directly can ignore Base and
// build a dvm.FsDriver by hand.
type Base struct {
	// MountFunc does the driver's actual on-disk-format setup. Base calls
	// it after taking its own share of disc.
	MountFunc func(entry *dvm.DeviceTableEntry, disc dvm.Disc, startSector dvm.SectorCount) error
	// UnmountFunc releases whatever MountFunc allocated. Base drops its
	// share of the disc after calling it, regardless of its result.
	UnmountFunc func(deviceData []byte) error

	disc dvm.Disc
}

// Driver builds a dvm.FsDriver for fstype, registry-ready, whose Mount and
// Unmount call AddUser/RemoveUser around the wrapped MountFunc/UnmountFunc.
func (b *Base) Driver(fstype string, deviceDataSize uint) *dvm.FsDriver {
	return &dvm.FsDriver{
		FSType:         fstype,
		DeviceDataSize: deviceDataSize,
		Mount:          b.mount,
		Unmount:        b.unmount,
	}
}

func (b *Base) mount(entry *dvm.DeviceTableEntry, disc dvm.Disc, startSector dvm.SectorCount) error {
	disc.AddUser()

	if err := b.MountFunc(entry, disc, startSector); err != nil {
		_ = disc.RemoveUser()
		return err
	}

	b.disc = disc
	return nil
}

func (b *Base) unmount(deviceData []byte) error {
	err := b.UnmountFunc(deviceData)

	if b.disc != nil {
		if rmErr := b.disc.RemoveUser(); rmErr != nil && err == nil {
			err = rmErr
		}
		b.disc = nil
	}

	return err
}
