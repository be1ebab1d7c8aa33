package dvm

import (
	_ "embed"
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
)

// DeviceTypeProfile describes a known class of block device that a
// PlatformInterface's IOType field may identify (spec.md §3, "an opaque
// io_type tag identifying the underlying device"). It's informational:
// nothing in the core disc/cache/prober path requires it, but platform
// glue and diagnostics use it to pick sensible cache defaults and to
// print something more useful than a bare tag string.
type DeviceTypeProfile struct {
	Slug                  string `csv:"slug"`
	Name                  string `csv:"name"`
	SectorSize            uint   `csv:"sector_size"`
	Removable             uint   `csv:"is_removable"`
	DefaultCachePages     uint   `csv:"default_cache_pages"`
	DefaultSectorsPerPage uint   `csv:"default_sectors_per_page"`
	Notes                 string `csv:"notes"`
}

// IsRemovable reports whether media of this device class can be ejected
// or swapped at runtime.
func (p DeviceTypeProfile) IsRemovable() bool {
	return p.Removable != 0
}

//go:embed device-types.csv
var deviceTypesRawCSV string
var deviceTypes map[string]DeviceTypeProfile

// GetDeviceTypeProfile looks up a known io_type slug (e.g. "sd_slot",
// "usb_msc", "ram_disk", "nds_dldi").
func GetDeviceTypeProfile(slug string) (DeviceTypeProfile, error) {
	profile, ok := deviceTypes[slug]
	if ok {
		return profile, nil
	}
	return DeviceTypeProfile{}, fmt.Errorf("dvm: no device type profile registered for io_type %q", slug)
}

func init() {
	deviceTypes = make(map[string]DeviceTypeProfile)
	reader := strings.NewReader(deviceTypesRawCSV)
	err := gocsv.UnmarshalToCallback(reader, func(row DeviceTypeProfile) error {
		if _, exists := deviceTypes[row.Slug]; exists {
			return fmt.Errorf("dvm: duplicate device type profile for slug %q", row.Slug)
		}
		deviceTypes[row.Slug] = row
		return nil
	})
	if err != nil && err != io.EOF {
		panic(err)
	}
}
