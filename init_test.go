package dvm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockvol/dvm"
)

func newProbeTestManager() (*dvm.VolumeManager, *dvm.Registry) {
	reg := dvm.NewRegistry()
	table := dvm.NewMemDeviceTable()
	return dvm.NewVolumeManager(reg, table), reg
}

func TestProbeMountDisc_MountsEachIdentifiedPartition(t *testing.T) {
	manager, reg := newProbeTestManager()
	require.True(t, reg.Register(fakeDriver("vfat")))
	require.True(t, reg.Register(fakeDriver("exfat")))

	image := make([]byte, sectorSize*64)
	entries := []dvm.MBREntrySpec{
		{Status: 0x80, Type: 0x0C, StartSector: 1, NumSectors: 10},
		{Status: 0x00, Type: 0x07, StartSector: 20, NumSectors: 10},
	}
	require.NoError(t, dvm.FormatBlankMBR(image[:sectorSize], sectorSize, entries))
	require.NoError(t, dvm.StampVBR(image[1*sectorSize:2*sectorSize], "vfat"))
	require.NoError(t, dvm.StampVBR(image[20*sectorSize:21*sectorSize], "exfat"))

	disc, err := dvm.NewRAMDiscFromImage(sectorSize, image)
	require.NoError(t, err)

	mounted, err := manager.ProbeMountDisc("sd", disc)
	require.NoError(t, err)
	assert.Equal(t, 2, mounted)

	first, ok := manager.Lookup("sd")
	require.True(t, ok)
	assert.Equal(t, "vfat", first.FSType())

	second, ok := manager.Lookup("sd1")
	require.True(t, ok)
	assert.Equal(t, "exfat", second.FSType())
}

func TestProbeMountDisc_FallsBackToWholeDiscExfatWhenUnpartitioned(t *testing.T) {
	manager, reg := newProbeTestManager()
	require.True(t, reg.Register(fakeDriver("exfat")))

	disc, err := dvm.NewRAMDisc(sectorSize, 16)
	require.NoError(t, err)

	mounted, err := manager.ProbeMountDisc("ram", disc)
	require.NoError(t, err)
	assert.Equal(t, 1, mounted)

	vol, ok := manager.Lookup("ram")
	require.True(t, ok)
	assert.Equal(t, "exfat", vol.FSType())
}

func TestProbeMountDisc_MalformedTableFallsBackToWholeDiscExfat(t *testing.T) {
	manager, reg := newProbeTestManager()
	require.True(t, reg.Register(fakeDriver("exfat")))

	image := make([]byte, sectorSize*16)
	entries := []dvm.MBREntrySpec{{Status: 0x80, Type: 0x0C, StartSector: 1, NumSectors: 10}}
	require.NoError(t, dvm.FormatBlankMBR(image[:sectorSize], sectorSize, entries))
	image[0x1BE] = 0x55 // corrupt the first entry's status byte

	disc, err := dvm.NewRAMDiscFromImage(sectorSize, image)
	require.NoError(t, err)

	mounted, err := manager.ProbeMountDisc("sd", disc)
	require.NoError(t, err, "a malformed table must not abort the probe, only skip straight to the exfat fallback")
	assert.Equal(t, 1, mounted)

	vol, ok := manager.Lookup("sd")
	require.True(t, ok)
	assert.Equal(t, "exfat", vol.FSType())
}

func TestProbeMountDisc_NoRecognizedPartitionsAndNoExfatDriverMountsNothing(t *testing.T) {
	manager, _ := newProbeTestManager()
	disc, err := dvm.NewRAMDisc(sectorSize, 16)
	require.NoError(t, err)

	mounted, err := manager.ProbeMountDisc("ram", disc)
	require.NoError(t, err)
	assert.Equal(t, 0, mounted)
}

func TestInit_AggregatesAcrossMultiplePlatforms(t *testing.T) {
	manager, reg := newProbeTestManager()
	require.True(t, reg.Register(fakeDriver("exfat")))

	platforms := []dvm.PlatformDisc{
		{
			Name: "ram0",
			Interface: dvm.PlatformInterface{
				Startup:      func() bool { return true },
				ReadSectors:  func(buffer []byte, first, count dvm.SectorCount) bool { return true },
				WriteSectors: func(buffer []byte, first, count dvm.SectorCount) bool { return true },
				IOType:       "ram_disk",
				Features:     dvm.FeatureCanRead | dvm.FeatureCanWrite,
				SectorSize:   512,
				NumSectors:   16,
			},
		},
		{
			Name: "ram1",
			Interface: dvm.PlatformInterface{
				Startup:      func() bool { return false },
				ReadSectors:  func(buffer []byte, first, count dvm.SectorCount) bool { return true },
				WriteSectors: func(buffer []byte, first, count dvm.SectorCount) bool { return true },
				IOType:       "ram_disk",
				SectorSize:   512,
				NumSectors:   16,
			},
		},
	}

	total, err := dvm.Init(manager, dvm.Config{SetAppCWDir: false}, "/apps/test/test.nds", platforms)
	assert.NoError(t, err, "a platform disc failing Startup should not surface as an Init error")
	assert.Equal(t, 1, total)
}

func TestSetWorkingDirFromArgv0_EmptyDirIsNoOp(t *testing.T) {
	assert.NoError(t, dvm.SetWorkingDirFromArgv0("test.nds"))
}
