package dvm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockvol/dvm"
)

func newTestManager() (*dvm.VolumeManager, *dvm.Registry, *dvm.MemDeviceTable) {
	reg := dvm.NewRegistry()
	table := dvm.NewMemDeviceTable()
	return dvm.NewVolumeManager(reg, table), reg, table
}

func TestVolumeManager_MountVolume_InstallsAsDefaultWhenFirst(t *testing.T) {
	manager, reg, table := newTestManager()
	require.True(t, reg.Register(fakeDriver("vfat")))
	disc, err := dvm.NewRAMDisc(512, 64)
	require.NoError(t, err)

	var chdirPath string
	manager.ChdirFunc = func(path string) error {
		chdirPath = path
		return nil
	}

	vol, err := manager.MountVolume("sd", disc, 0, "vfat")
	require.NoError(t, err)
	assert.Equal(t, "sd", vol.Name())
	assert.Equal(t, "vfat", vol.FSType())
	assert.Equal(t, "sd:/", chdirPath)
	assert.Equal(t, "sd", table.DefaultDeviceName())
}

func TestVolumeManager_MountVolume_UnknownFSTypeFails(t *testing.T) {
	manager, _, _ := newTestManager()
	disc, err := dvm.NewRAMDisc(512, 64)
	require.NoError(t, err)

	_, err = manager.MountVolume("sd", disc, 0, "ext4")
	assert.ErrorIs(t, err, dvm.ErrNoDriver)
}

func TestVolumeManager_MountVolume_DriverMountFailureLeavesNothingInstalled(t *testing.T) {
	manager, reg, table := newTestManager()
	driver := fakeDriver("broken")
	driver.Mount = func(entry *dvm.DeviceTableEntry, disc dvm.Disc, startSector dvm.SectorCount) error {
		return assertBoom
	}
	require.True(t, reg.Register(driver))
	disc, err := dvm.NewRAMDisc(512, 64)
	require.NoError(t, err)

	_, err = manager.MountVolume("sd", disc, 0, "broken")
	assert.Error(t, err)

	_, ok := table.GetDevice("sd")
	assert.False(t, ok, "a failed Mount must leave no device table entry installed")
	_, ok = manager.Lookup("sd")
	assert.False(t, ok)
}

func TestVolumeManager_MountVolume_InstallFailureUnwindsDriver(t *testing.T) {
	manager, reg, table := newTestManager()
	unmountCalled := false
	driver := fakeDriver("vfat")
	driver.Unmount = func(deviceData []byte) error {
		unmountCalled = true
		return nil
	}
	require.True(t, reg.Register(driver))
	disc, err := dvm.NewRAMDisc(512, 64)
	require.NoError(t, err)

	// Pre-occupy the name so AddDevice fails on the real mount attempt.
	_, err = table.AddDevice(&dvm.DeviceTableEntry{Name: "sd"})
	require.NoError(t, err)

	_, err = manager.MountVolume("sd", disc, 0, "vfat")
	assert.Error(t, err)
	assert.True(t, unmountCalled, "driver.Unmount should run when device table installation fails")
}

// S6: UnmountVolume on a name whose device-table entry was installed by
// something other than this manager is a no-op, not a crash or a real
// unmount (spec.md §8, §9 Open Question 4).
func TestVolumeManager_UnmountVolume_RejectsForeignDeviceEntry(t *testing.T) {
	manager, _, table := newTestManager()
	foreign := &dvm.DeviceTableEntry{Name: "usb", DeviceData: []byte{1, 2, 3, 4}}
	_, err := table.AddDevice(foreign)
	require.NoError(t, err)

	err = manager.UnmountVolume("usb")
	assert.ErrorIs(t, err, dvm.ErrForeignDeviceEntry)

	_, ok := table.GetDevice("usb")
	assert.True(t, ok, "a rejected unmount must leave the foreign entry installed")
}

func TestVolumeManager_UnmountVolume_NotMounted(t *testing.T) {
	manager, _, _ := newTestManager()
	err := manager.UnmountVolume("nope")
	assert.ErrorIs(t, err, dvm.ErrNotMounted)
}

func TestVolumeManager_UnmountVolume_RoundTrip(t *testing.T) {
	manager, reg, table := newTestManager()
	unmountCalled := false
	driver := fakeDriver("vfat")
	driver.Unmount = func(deviceData []byte) error {
		unmountCalled = true
		return nil
	}
	require.True(t, reg.Register(driver))
	disc, err := dvm.NewRAMDisc(512, 64)
	require.NoError(t, err)

	_, err = manager.MountVolume("sd", disc, 0, "vfat")
	require.NoError(t, err)

	require.NoError(t, manager.UnmountVolume("sd"))
	assert.True(t, unmountCalled)

	_, ok := table.GetDevice("sd")
	assert.False(t, ok)
	_, ok = manager.Lookup("sd")
	assert.False(t, ok)
}

var assertBoom = assertError("boom")

type assertError string

func (e assertError) Error() string { return string(e) }
