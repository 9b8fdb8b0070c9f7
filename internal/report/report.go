// Package report turns run results into terminal output: one status
// line per scenario, failure diagnostics with a console-tail excerpt,
// and a final tally.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"grimm.is/bootlab/internal/verify"
)

type Outcome int

const (
	OutcomePass Outcome = iota
	OutcomeFail
	OutcomeSkip
)

func (o Outcome) String() string {
	switch o {
	case OutcomePass:
		return "PASS"
	case OutcomeFail:
		return "FAIL"
	case OutcomeSkip:
		return "SKIP"
	default:
		return "????"
	}
}

func (o Outcome) render() string {
	switch o {
	case OutcomePass:
		return StylePass.Render("PASS")
	case OutcomeFail:
		return StyleFail.Render("FAIL")
	case OutcomeSkip:
		return StyleSkip.Render("SKIP")
	default:
		return o.String()
	}
}

// RunReport is one scenario's outcome, ready to print.
type RunReport struct {
	Scenario   string
	Outcome    Outcome
	Reason     string
	FailedStep int
	Elapsed    time.Duration
	Tail       string
	Transcript string // path to the saved transcript, if any
}

// FromResult converts a protocol result.
func FromResult(name string, res *verify.Result, transcript string) *RunReport {
	r := &RunReport{
		Scenario:   name,
		FailedStep: res.FailedStep,
		Elapsed:    res.Elapsed,
		Tail:       res.Tail,
		Transcript: transcript,
	}
	switch {
	case res.Ok():
		r.Outcome = OutcomePass
	case res.Skipped():
		r.Outcome = OutcomeSkip
		r.Reason = res.Err.Error()
	default:
		r.Outcome = OutcomeFail
		if res.Err != nil {
			r.Reason = res.Err.Error()
		}
	}
	return r
}

// Skip builds a report for a scenario that never launched, typically a
// failed requires check.
func Skip(name, reason string) *RunReport {
	return &RunReport{Scenario: name, Outcome: OutcomeSkip, Reason: reason, FailedStep: -1}
}

// Print writes the status line and, for failures, the diagnostics a
// reader needs to act without rerunning.
func (r *RunReport) Print(w io.Writer) {
	fmt.Fprintf(w, "%s %-44s %s\n", r.Outcome.render(), r.Scenario, StyleDim.Render(formatElapsed(r.Elapsed)))

	switch r.Outcome {
	case OutcomeSkip:
		fmt.Fprintf(w, "     └─ %s\n", StyleDim.Render(r.Reason))
	case OutcomeFail:
		if r.FailedStep >= 0 {
			fmt.Fprintf(w, "     └─ step %d: %s\n", r.FailedStep, r.Reason)
		} else {
			fmt.Fprintf(w, "     └─ %s\n", r.Reason)
		}
		if excerpt := TailExcerpt(r.Tail, 15); excerpt != "" {
			fmt.Fprintln(w, StyleDim.Render(indent(excerpt, "     │ ")))
		}
		if r.Transcript != "" {
			fmt.Fprintf(w, "     └─ full transcript: %s\n", r.Transcript)
		}
	}
}

// Summary prints the tally and returns the process exit code: zero when
// nothing failed (skips are not failures), one otherwise.
func Summary(w io.Writer, reports []*RunReport) int {
	var pass, fail, skip int
	for _, r := range reports {
		switch r.Outcome {
		case OutcomePass:
			pass++
		case OutcomeFail:
			fail++
		case OutcomeSkip:
			skip++
		}
	}
	line := fmt.Sprintf("Passed: %d/%d", pass, pass+fail)
	if skip > 0 {
		line += fmt.Sprintf("  Skipped: %d", skip)
	}
	if fail > 0 {
		fmt.Fprintf(w, "\n%s\n", StyleFail.Render(line))
		return 1
	}
	fmt.Fprintf(w, "\n%s\n", StylePass.Render(line))
	return 0
}

// TailExcerpt returns the last n lines of a console tail, trimmed of
// trailing blank lines.
func TailExcerpt(tail string, n int) string {
	trimmed := strings.TrimRight(tail, "\r\n")
	if trimmed == "" {
		return ""
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = prefix + lines[i]
	}
	return strings.Join(lines, "\n")
}

func formatElapsed(d time.Duration) string {
	if d == 0 {
		return "-"
	}
	return d.Round(100 * time.Millisecond).String()
}
