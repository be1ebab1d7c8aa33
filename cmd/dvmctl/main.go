// dvmctl is a thin operator CLI over a RAM-backed disc image, for poking
// at dvm's partition prober without a real platform device behind it. It
// also lists the known device type profiles; it mounts nothing.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/blockvol/dvm"
)

func main() {
	app := cli.App{
		Name:  "dvmctl",
		Usage: "probe disc images through dvm",
		Commands: []*cli.Command{
			{
				Name:      "probe",
				Usage:     "list the partitions dvm finds on an image file",
				ArgsUsage: "IMAGE",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "sector-size", Value: 512},
				},
				Action: probeImage,
			},
			{
				Name:  "types",
				Usage: "list the known device type profiles",
				Action: func(*cli.Context) error {
					for _, slug := range []string{"sd_slot", "usb_msc", "ram_disk", "nds_dldi", "gba_cart", "gc_card", "ide_hdd", "scsi_disk"} {
						profile, err := dvm.GetDeviceTypeProfile(slug)
						if err != nil {
							return err
						}
						fmt.Printf("%-10s %-24s sector=%d removable=%v\n", profile.Slug, profile.Name, profile.SectorSize, profile.IsRemovable())
					}
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("dvmctl: %s", err)
	}
}

func probeImage(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return cli.Exit("expected exactly one IMAGE argument", 1)
	}

	path := c.Args().First()
	sectorSize := uint(c.Uint("sector-size"))

	raw, err := os.ReadFile(path)
	if err != nil {
		return cli.Exit(err, 1)
	}

	disc, err := dvm.NewRAMDiscFromImage(sectorSize, raw)
	if err != nil {
		return cli.Exit(err, 1)
	}

	partitions, err := dvm.ProbePartitions(disc, true)
	if err != nil {
		return cli.Exit(err, 1)
	}

	if len(partitions) == 0 {
		fmt.Println("no partitions found")
		return nil
	}

	for _, part := range partitions {
		fstype := part.FSType
		if fstype == "" {
			fstype = "<unidentified>"
		}
		fmt.Printf("#%d type=0x%02X fstype=%-10s start=%-10d sectors=%d\n",
			part.Index, part.Type, fstype, part.StartSector, part.NumSectors)
	}
	return nil
}
