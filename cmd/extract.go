package cmd

import (
	"fmt"

	"grimm.is/bootlab/internal/archive"
	"grimm.is/bootlab/internal/brand"
)

// RunExtract unpacks a cached archive by hand, mostly for inspecting
// what a scenario's unpack step would have produced.
func RunExtract(src, dest string, uncompress bool) error {
	if src == "" || dest == "" {
		return fmt.Errorf("usage: %s extract [-u] <archive> <dest>", brand.BinaryName)
	}

	if uncompress {
		if err := archive.Uncompress(src, dest); err != nil {
			return err
		}
		Printer.Printf("Uncompressed to %s\n", dest)
		return nil
	}

	if err := archive.Extract(src, dest); err != nil {
		return err
	}
	Printer.Printf("Extracted to %s\n", dest)
	return nil
}
