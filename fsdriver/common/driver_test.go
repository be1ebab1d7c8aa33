package common_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockvol/dvm"
	c "github.com/blockvol/dvm/fsdriver/common"
)

// trackingDisc is a minimal dvm.Disc double that counts AddUser/RemoveUser
// calls instead of actually tearing anything down, so tests can assert on
// Base's share-taking behavior directly.
type trackingDisc struct {
	users int
}

func (d *trackingDisc) ReadSectors([]byte, dvm.SectorCount, dvm.SectorCount) error  { return nil }
func (d *trackingDisc) WriteSectors([]byte, dvm.SectorCount, dvm.SectorCount) error { return nil }
func (d *trackingDisc) Flush() error                                               { return nil }
func (d *trackingDisc) AddUser()                                                   { d.users++ }
func (d *trackingDisc) RemoveUser() error                                          { d.users--; return nil }
func (d *trackingDisc) IOType() string                                             { return "mock" }
func (d *trackingDisc) Features() dvm.Features                                     { return 0 }
func (d *trackingDisc) NumSectors() dvm.SectorCount                                { return 64 }
func (d *trackingDisc) SectorSize() uint                                           { return 512 }
func (d *trackingDisc) ResolveUnknownSize(dvm.SectorCount) error                   { return nil }

func TestBase_MountTakesShareUnmountDropsIt(t *testing.T) {
	var mounted, unmounted bool
	base := &c.Base{
		MountFunc: func(*dvm.DeviceTableEntry, dvm.Disc, dvm.SectorCount) error {
			mounted = true
			return nil
		},
		UnmountFunc: func([]byte) error {
			unmounted = true
			return nil
		},
	}
	driver := base.Driver("testfs", 16)
	assert.Equal(t, "testfs", driver.FSType)
	assert.EqualValues(t, 16, driver.DeviceDataSize)

	disc := &trackingDisc{}
	entry := &dvm.DeviceTableEntry{DeviceData: make([]byte, 16)}

	require.NoError(t, driver.Mount(entry, disc, 0))
	assert.True(t, mounted)
	assert.Equal(t, 1, disc.users)

	require.NoError(t, driver.Unmount(entry.DeviceData))
	assert.True(t, unmounted)
	assert.Equal(t, 0, disc.users)
}

func TestBase_MountFailureDropsShareWithoutCallingUnmount(t *testing.T) {
	boom := errors.New("boom")
	unmountCalled := false
	base := &c.Base{
		MountFunc: func(*dvm.DeviceTableEntry, dvm.Disc, dvm.SectorCount) error {
			return boom
		},
		UnmountFunc: func([]byte) error {
			unmountCalled = true
			return nil
		},
	}
	driver := base.Driver("testfs", 0)
	disc := &trackingDisc{}

	err := driver.Mount(&dvm.DeviceTableEntry{}, disc, 0)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, disc.users, "a failed mount must not leave the share taken")
	assert.False(t, unmountCalled)
}

func TestBase_UnmountSurfacesRemoveUserFailureWhenUnmountFuncSucceeds(t *testing.T) {
	boom := errors.New("boom")
	base := &c.Base{
		MountFunc:   func(*dvm.DeviceTableEntry, dvm.Disc, dvm.SectorCount) error { return nil },
		UnmountFunc: func([]byte) error { return nil },
	}
	driver := base.Driver("testfs", 0)
	disc := &failingRemoveDisc{trackingDisc: trackingDisc{}, removeErr: boom}

	require.NoError(t, driver.Mount(&dvm.DeviceTableEntry{}, disc, 0))
	assert.ErrorIs(t, driver.Unmount(nil), boom)
}

type failingRemoveDisc struct {
	trackingDisc
	removeErr error
}

func (d *failingRemoveDisc) RemoveUser() error {
	d.users--
	return d.removeErr
}
