// dvmprobe inspects a disc image file the way dvm's partition prober sees
// it, without requiring a full volume-manager mount.
package main

import (
	"fmt"
	"os"

	"github.com/blockvol/dvm/cmd/dvmprobe/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
