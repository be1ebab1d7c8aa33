package cmd

import (
	"github.com/spf13/cobra"
)

var imageSectorSize uint

var rootCmd = &cobra.Command{
	Use:   "dvmprobe",
	Short: "Inspect disc images the way dvm's partition prober sees them",
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().UintVarP(&imageSectorSize, "sector-size", "s", 512, "sector size of the image, in bytes")
}
