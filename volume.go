package dvm

import "fmt"

// Volume is a mounted filesystem instance bound to a (disc, start
// sector, driver) triple (spec.md §3, "Volume"). It owns the
// driver-private device-data region and the device-table entry installed
// on its behalf; both are torn down together by UnmountVolume.
type Volume struct {
	name        string
	driver      *FsDriver
	disc        Disc
	startSector SectorCount
	deviceData  []byte
	entry       *DeviceTableEntry
}

// Name returns the name this volume was mounted under.
func (v *Volume) Name() string { return v.name }

// FSType returns the fstype of the driver this volume was mounted with.
func (v *Volume) FSType() string { return v.driver.FSType }

// StartSector returns the disc-relative sector this volume begins at.
func (v *Volume) StartSector() SectorCount { return v.startSector }

// VolumeManager mounts and unmounts filesystem instances, binding
// FsDrivers from a Registry to discs and installing the result into a
// DeviceTable (spec.md §4.6, component C6).
type VolumeManager struct {
	Registry    *Registry
	DeviceTable DeviceTable

	// ChdirFunc, if set, is called with "<name>:/" when MountVolume
	// installs the first non-null default device, matching the source's
	// behavior of chdir-ing into the newly mounted volume's root.
	ChdirFunc func(path string) error

	volumes map[string]*Volume
}

// NewVolumeManager builds a VolumeManager over the given registry and
// device table.
func NewVolumeManager(registry *Registry, deviceTable DeviceTable) *VolumeManager {
	return &VolumeManager{
		Registry:    registry,
		DeviceTable: deviceTable,
		volumes:     make(map[string]*Volume),
	}
}

// MountVolume looks up fstype in the registry, builds a Volume, and asks
// the driver to mount it starting at startSector. On success the volume
// is installed into the device table; if the device table was still
// pointed at the null sink, it becomes the new default and ChdirFunc (if
// set) is invoked (spec.md §4.6).
//
// The manager takes its own share of disc via AddUser before handing it
// to the driver, independent of whatever refcounting the driver does
// internally (SPEC_FULL.md supplemented feature #2): a Volume keeps disc
// alive for as long as it's installed, the same way the FAT driver keeps
// its own share alive for as long as it's mounted.
func (m *VolumeManager) MountVolume(name string, disc Disc, startSector SectorCount, fstype string) (*Volume, error) {
	driver, ok := m.Registry.Lookup(fstype)
	if !ok {
		return nil, ErrNoDriver
	}

	disc.AddUser()

	vol := &Volume{
		name:        name,
		driver:      driver,
		disc:        disc,
		startSector: startSector,
		deviceData:  make([]byte, driver.DeviceDataSize),
	}
	entry := &DeviceTableEntry{
		Name:       name,
		DeviceData: vol.deviceData,
		managedBy:  vol,
	}
	vol.entry = entry

	if err := driver.Mount(entry, disc, startSector); err != nil {
		_ = disc.RemoveUser()
		return nil, fmt.Errorf("dvm: mounting %q as %s: %w", name, fstype, err)
	}

	id, err := m.DeviceTable.AddDevice(entry)
	if err != nil {
		// Mount succeeded but installation didn't: no partial mounts are
		// left behind (spec.md §7, "No partial mounts left installed").
		_ = driver.Unmount(vol.deviceData)
		_ = disc.RemoveUser()
		return nil, err
	}

	if m.volumes == nil {
		m.volumes = make(map[string]*Volume)
	}
	m.volumes[name] = vol

	if m.DeviceTable.DefaultDeviceName() == NullDeviceName {
		m.DeviceTable.SetDefaultDevice(id)
		if m.ChdirFunc != nil {
			_ = m.ChdirFunc(name + ":/")
		}
	}

	return vol, nil
}

// MountPartition is sugar for MountVolume using a PartitionInfo's start
// sector and identified fstype (spec.md §4.6).
func (m *VolumeManager) MountPartition(name string, disc Disc, part PartitionInfo) (*Volume, error) {
	return m.MountVolume(name, disc, part.StartSector, part.FSType)
}

// UnmountVolume looks up name in the device table, confirms via the
// structural-sentinel check that the entry was produced by this manager
// (not some foreign subsystem reusing the name), then removes it,
// unmounts the driver, and forgets the volume (spec.md §4.6).
//
// The check is bidirectional: the entry must point back to a volume
// (managedBy), and that volume's own entry pointer must be this exact
// entry. Either side failing means the name belongs to something this
// manager didn't install, and UnmountVolume is a no-op (spec.md §9, Open
// Question 4; S6 in §8).
func (m *VolumeManager) UnmountVolume(name string) error {
	entry, ok := m.DeviceTable.GetDevice(name)
	if !ok {
		return ErrNotMounted
	}

	vol := entry.managedBy
	if vol == nil || vol.entry != entry {
		return ErrForeignDeviceEntry
	}

	m.DeviceTable.RemoveDevice(name)
	delete(m.volumes, name)

	err := vol.driver.Unmount(vol.deviceData)
	if rmErr := vol.disc.RemoveUser(); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}

// Lookup returns the volume mounted under name, if any.
func (m *VolumeManager) Lookup(name string) (*Volume, bool) {
	v, ok := m.volumes[name]
	return v, ok
}
