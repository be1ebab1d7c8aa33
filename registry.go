package dvm

import (
	"sync"

	"github.com/boljen/go-bitmap"
)

// RegistryCapacity is the fixed size of the filesystem-driver registry
// (spec.md §4.5).
const RegistryCapacity = 8

// FsDriver is the immutable descriptor a filesystem implementation
// registers under an fstype name (spec.md §3, "FsDriver"). Everything
// about the concrete on-disk format — FAT, exFAT, the read-only NitroROM
// driver, anything else — lives behind this contract; dvm itself only
// ever calls Mount and Unmount.
//
// Mount must be idempotent under failure: any partial state it built
// must be torn down before it returns a non-nil error (spec.md §6).
// Unmount must release every per-volume resource the driver holds and
// then return.
type FsDriver struct {
	// FSType is this driver's lookup key, e.g. "vfat", "exfat". Keys are
	// unique by first-wins registration.
	FSType string
	// DeviceDataSize is how many bytes of driver-private storage Mount
	// expects to find in the DeviceTableEntry handed to it.
	DeviceDataSize uint
	// Mount binds this driver to disc starting at startSector, filling
	// in entry.DeviceData (already DeviceDataSize bytes) and populating
	// whatever host-routed function pointers entry carries.
	Mount func(entry *DeviceTableEntry, disc Disc, startSector SectorCount) error
	// Unmount releases everything Mount allocated. deviceData is the
	// same backing slice Mount was given.
	Unmount func(deviceData []byte) error
}

// Registry is the fixed-capacity, first-wins filesystem-driver table of
// spec.md §4.5. There is no unregister: once a driver claims an fstype
// name, it holds it for the registry's lifetime.
type Registry struct {
	mu       sync.Mutex
	drivers  [RegistryCapacity]*FsDriver
	occupied bitmap.Bitmap
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{occupied: bitmap.New(RegistryCapacity)}
}

// Register places driver into the first free slot. If an entry with the
// same FSType is already registered, this is a no-op success (spec.md
// §4.5: "if already present, return true"). If the registry is full, it
// returns false.
func (r *Registry) Register(driver *FsDriver) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i < RegistryCapacity; i++ {
		if r.drivers[i] != nil && r.drivers[i].FSType == driver.FSType {
			return true
		}
	}
	for i := 0; i < RegistryCapacity; i++ {
		if !r.occupied.Get(i) {
			r.drivers[i] = driver
			r.occupied.Set(i, true)
			return true
		}
	}
	return false
}

// Lookup scans the registry by fstype string equality, first match wins.
func (r *Registry) Lookup(fstype string) (*FsDriver, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i < RegistryCapacity; i++ {
		if r.occupied.Get(i) && r.drivers[i].FSType == fstype {
			return r.drivers[i], true
		}
	}
	return nil, false
}
