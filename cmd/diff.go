package cmd

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// RunDiff compares two console transcripts after stripping the noise
// that differs between otherwise identical boots.
func RunDiff(fileA, fileB string) error {
	rawA, err := os.ReadFile(fileA)
	if err != nil {
		return fmt.Errorf("failed to read transcript: %w", err)
	}
	rawB, err := os.ReadFile(fileB)
	if err != nil {
		return fmt.Errorf("failed to read transcript: %w", err)
	}

	a := StripTimestamps(string(rawA))
	b := StripTimestamps(string(rawB))

	if a == b {
		Printer.Println("No differences.")
		return nil
	}

	Printer.Println("Transcripts differ:")

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(a),
		B:        difflib.SplitLines(b),
		FromFile: fileA,
		ToFile:   fileB,
		Context:  3,
	}
	text, _ := difflib.GetUnifiedDiffString(diff)
	fmt.Print(text)

	return fmt.Errorf("transcripts differ")
}

// StripTimestamps removes printk time prefixes and masks kernel
// addresses, both of which change on every boot.
func StripTimestamps(s string) string {
	lines := strings.Split(s, "\n")
	var out []string

	rePrintk := regexp.MustCompile(`^\[\s*\d+\.\d+\] `)
	reAddr := regexp.MustCompile(`0x[0-9a-fA-F]{8,}`)

	for _, line := range lines {
		// Remove boot-time prefixes ([    0.123456] ...)
		line = rePrintk.ReplaceAllString(line, "")
		// Mask pointer values (0xffff800011223344)
		line = reAddr.ReplaceAllString(line, "0xADDR")

		// Remove trailing whitespace, including serial CR
		line = strings.TrimRight(line, " \t\r")

		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
