// dvmformat writes a zero-filled disc image file whose sector 0 holds a
// blank MBR (four empty partition slots plus the 0xAA55 signature), for
// building fixtures without a real mkfs. It stamps no VBR.
package main

import (
	"fmt"
	"os"

	"github.com/dsoprea/go-logging"
	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"

	"github.com/blockvol/dvm"
)

type rootParameters struct {
	Filepath     string `short:"f" long:"filepath" description:"Path of the image file to write" required:"true"`
	SectorSize   uint   `long:"sector-size" description:"Sector size in bytes" default:"512"`
	TotalSectors uint   `long:"total-sectors" description:"Total sectors in the image" required:"true"`
}

var rootArguments = new(rootParameters)

func main() {
	defer func() {
		if state := recover(); state != nil {
			err := log.Wrap(state.(error))
			log.PrintError(err)
			os.Exit(-1)
		}
	}()

	p := flags.NewParser(rootArguments, flags.Default)

	_, err := p.Parse()
	if err != nil {
		os.Exit(1)
	}

	image := make([]byte, uint64(rootArguments.SectorSize)*uint64(rootArguments.TotalSectors))
	fmt.Printf("writing %s image (%d sectors of %d bytes) to %s\n",
		humanize.Bytes(uint64(len(image))), rootArguments.TotalSectors, rootArguments.SectorSize, rootArguments.Filepath)

	err = dvm.FormatBlankMBR(image[:rootArguments.SectorSize], rootArguments.SectorSize, nil)
	log.PanicIf(err)

	err = os.WriteFile(rootArguments.Filepath, image, 0o644)
	log.PanicIf(err)
}
