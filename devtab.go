package dvm

import (
	"fmt"
	"sync"
)

// NullDeviceName is the sentinel default device name before any volume
// has been mounted, mirroring the source's "stdnull" device.
const NullDeviceName = "stdnull"

// DeviceTableEntry is the record installed into a DeviceTable: a named
// slot the host's file I/O layer routes requests through.
//
// managedBy is an unexported back-pointer set only by MountVolume. It,
// together with Volume.entry, implements the "structural sentinel" check
// of spec.md §4.6 without the source's address-offset comparison: §9's
// Open Question 4 flags that approach as not portable to languages with
// a more abstract memory model, and an explicit back-pointer is the
// suggested replacement.
type DeviceTableEntry struct {
	Name       string
	DeviceData []byte

	managedBy *Volume
}

// DeviceTable is the host collaborator this package requires (spec.md
// §6, "Host device-table collaborator"): install, remove, and look up
// named devices, and track which one is current default. A real
// integration plugs in whatever its platform's device table already is;
// MemDeviceTable is a self-contained default for hosts that don't have
// one of their own.
type DeviceTable interface {
	AddDevice(entry *DeviceTableEntry) (int, error)
	RemoveDevice(name string)
	GetDevice(name string) (*DeviceTableEntry, bool)
	SetDefaultDevice(id int)
	DefaultDeviceName() string
}

// MemDeviceTable is a minimal in-process DeviceTable for embedding
// applications with no device table of their own to plug into.
type MemDeviceTable struct {
	mu        sync.Mutex
	entries   []*DeviceTableEntry
	byName    map[string]int
	defaultID int
}

// NewMemDeviceTable builds an empty MemDeviceTable whose default device
// is the null sink until a volume is installed.
func NewMemDeviceTable() *MemDeviceTable {
	return &MemDeviceTable{
		byName:    make(map[string]int),
		defaultID: -1,
	}
}

func (t *MemDeviceTable) AddDevice(entry *DeviceTableEntry) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.byName[entry.Name]; exists {
		return -1, fmt.Errorf("dvm: device %q is already installed", entry.Name)
	}

	id := len(t.entries)
	t.entries = append(t.entries, entry)
	t.byName[entry.Name] = id
	return id, nil
}

func (t *MemDeviceTable) RemoveDevice(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.byName[name]
	if !ok {
		return
	}
	delete(t.byName, name)
	t.entries[id] = nil
	if t.defaultID == id {
		t.defaultID = -1
	}
}

func (t *MemDeviceTable) GetDevice(name string) (*DeviceTableEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.byName[name]
	if !ok || t.entries[id] == nil {
		return nil, false
	}
	return t.entries[id], true
}

func (t *MemDeviceTable) SetDefaultDevice(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.defaultID = id
}

func (t *MemDeviceTable) DefaultDeviceName() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.defaultID < 0 || t.defaultID >= len(t.entries) || t.entries[t.defaultID] == nil {
		return NullDeviceName
	}
	return t.entries[t.defaultID].Name
}
