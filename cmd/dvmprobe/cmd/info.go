package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blockvol/dvm"
)

var infoCmd = &cobra.Command{
	Use:                   "info FILE",
	Short:                 "Print a disc image's raw size and sector geometry",
	Args:                  cobra.ExactArgs(1),
	DisableFlagsInUseLine: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		disc, err := openImage(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("sector size:  %d bytes\n", disc.SectorSize())
		fmt.Printf("sector count: %d\n", disc.NumSectors())
		fmt.Printf("total size:   %d bytes\n", uint64(disc.NumSectors())*uint64(disc.SectorSize()))
		fmt.Printf("features:     read=%v write=%v format=%v\n",
			disc.Features().Has(dvm.FeatureCanRead),
			disc.Features().Has(dvm.FeatureCanWrite),
			disc.Features().Has(dvm.FeatureCanFormat),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
