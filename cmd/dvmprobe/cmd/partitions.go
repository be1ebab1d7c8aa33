package cmd

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/blockvol/dvm"
)

var identifyFSType bool

var partitionsCmd = &cobra.Command{
	Use:                   "partitions FILE",
	Short:                 "List the partitions found on a disc image",
	Args:                  cobra.ExactArgs(1),
	DisableFlagsInUseLine: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		disc, err := openImage(args[0])
		if err != nil {
			return err
		}

		partitions, err := dvm.ProbePartitions(disc, identifyFSType)
		if err != nil {
			return errors.Wrap(err, "probing partitions")
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
	},
}

func openImage(path string) (dvm.Disc, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	disc, err := dvm.NewRAMDiscFromImage(imageSectorSize, raw)
	if err != nil {
		return nil, errors.Wrap(err, "building disc from image")
	}
	return disc, nil
}

func init() {
	partitionsCmd.Flags().BoolVarP(&identifyFSType, "identify", "i", true, "identify each partition's filesystem type")
	rootCmd.AddCommand(partitionsCmd)
}
