package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"grimm.is/bootlab/internal/brand"
	"grimm.is/bootlab/internal/scenario"
)

// RunCheck validates a scenario file's syntax and semantics.
func RunCheck(scenarioFile string, verbose bool) error {
	if len(scenarioFile) == 0 {
		return fmt.Errorf("usage: %s check [-v] <scenario-file>\nExample: %s check -v scenarios/aarch64-virt-gicv3%s", brand.BinaryName, brand.BinaryName, brand.ScenarioFileExt)
	}

	sc, err := scenario.Load(scenarioFile)
	if err != nil {
		return fmt.Errorf("scenario invalid: %w", err)
	}

	Printer.Printf("Scenario valid!\n")
	Printer.Printf("Name: %s\n", sc.Name)
	if sc.Description != "" {
		Printer.Printf("Description: %s\n", sc.Description)
	}
	Printer.Printf("Assets: %d\n", len(sc.Assets))
	Printer.Printf("Disks: %d\n", len(sc.Disks))
	Printer.Printf("Boot steps: %d\n", len(sc.Boot.Steps))
	Printer.Printf("Skip rules: %d\n", len(sc.Skips))

	if raw, err := os.ReadFile(scenarioFile); err == nil {
		if formatted := scenario.Format(raw); string(formatted) != string(raw) {
			Printer.Printf("Formatting: not canonical (hclfmt would rewrite this file)\n")
		}
	}

	if verbose {
		Printer.Println()
		printSummary(sc)
	}

	return nil
}

func printSummary(sc *scenario.Scenario) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)

	// Assets
	if len(sc.Assets) > 0 {
		Printer.Fprintln(w, "ASSET\tDIGEST\tSTAGING\tURL")
		for _, a := range sc.Assets {
			staging := "-"
			if a.Unpack {
				staging = "unpack"
			} else if a.Uncompress {
				staging = "uncompress"
			}
			Printer.Fprintf(w, "%s\t%s\t%s\t%s\n", a.Name, a.SHA256[:12], staging, a.URL)
		}
		Printer.Fprintln(w)
		w.Flush()
	}

	// Disks
	if len(sc.Disks) > 0 {
		Printer.Fprintln(w, "DISK\tSIZE\tBACKING")
		for _, d := range sc.Disks {
			size := d.Size
			if size == "" {
				size = "-"
			}
			backing := d.Backing
			if backing == "" {
				backing = "-"
			}
			Printer.Fprintf(w, "%s\t%s\t%s\n", d.Name, size, backing)
		}
		Printer.Fprintln(w)
		w.Flush()
	}

	// Boot protocol
	Printer.Fprintln(w, "#\tSEND\tEXPECT")
	if sc.Boot.Login != nil {
		Printer.Fprintf(w, "login\t%s\t%s\n", sc.Boot.Login.User, sc.Boot.Login.Prompt)
	}
	for i, st := range sc.Boot.Steps {
		Printer.Fprintf(w, "%d\t%s\t%s\n", i, st.Send, st.Expect)
	}
	Printer.Fprintln(w)
	w.Flush()

	// Skip rules
	if len(sc.Skips) > 0 {
		Printer.Fprintln(w, "MATCH\tSKIP REASON")
		for _, sk := range sc.Skips {
			Printer.Fprintf(w, "%s\t%s\n", sk.Match, sk.Reason)
		}
		w.Flush()
	}

	Printer.Printf("\nVM command: %s (%d args, console %s)\n",
		sc.VM.Binary, len(sc.VM.Args), sc.ConsoleConfig("<scratch>").Transport)
}
