package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"grimm.is/bootlab/internal/console"
	"grimm.is/bootlab/internal/verify"
)

func TestFromResult(t *testing.T) {
	t.Run("Pass", func(t *testing.T) {
		res := &verify.Result{State: verify.StateHalted, FailedStep: -1, Elapsed: 3 * time.Second}
		r := FromResult("aarch64-virt", res, "")
		if r.Outcome != OutcomePass {
			t.Errorf("Outcome = %s, want PASS", r.Outcome)
		}
	})

	t.Run("Skip", func(t *testing.T) {
		res := &verify.Result{State: verify.StateFailed, FailedStep: -1, Err: &verify.SkipCondition{Reason: "no-gpu"}}
		r := FromResult("gpu", res, "")
		if r.Outcome != OutcomeSkip {
			t.Errorf("Outcome = %s, want SKIP", r.Outcome)
		}
		if !strings.Contains(r.Reason, "no-gpu") {
			t.Errorf("Reason = %q", r.Reason)
		}
	})

	t.Run("Fail", func(t *testing.T) {
		res := &verify.Result{
			State:      verify.StateFailed,
			FailedStep: 2,
			Err:        &console.TimeoutError{Success: "#", Timeout: time.Minute},
			Tail:       "last console lines",
		}
		r := FromResult("gicv2", res, "/tmp/run/transcript.log")
		if r.Outcome != OutcomeFail {
			t.Errorf("Outcome = %s, want FAIL", r.Outcome)
		}
		if r.FailedStep != 2 || r.Tail == "" {
			t.Errorf("report = %+v", r)
		}
	})
}

func TestPrint(t *testing.T) {
	t.Run("FailShowsDiagnostics", func(t *testing.T) {
		var buf bytes.Buffer
		r := &RunReport{
			Scenario:   "aarch64-virt-gicv3",
			Outcome:    OutcomeFail,
			Reason:     "timed out after 1m0s waiting for \"#\" on the console",
			FailedStep: 1,
			Tail:       "line one\nline two\nline three",
			Transcript: "/tmp/bootlab/run/transcript.log",
		}
		r.Print(&buf)
		out := buf.String()
		for _, want := range []string{"FAIL", "aarch64-virt-gicv3", "step 1", "line three", "transcript.log"} {
			if !strings.Contains(out, want) {
				t.Errorf("output missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("SkipShowsReason", func(t *testing.T) {
		var buf bytes.Buffer
		Skip("gpu-scenario", "no drm render node").Print(&buf)
		out := buf.String()
		if !strings.Contains(out, "SKIP") || !strings.Contains(out, "no drm render node") {
			t.Errorf("output = %q", out)
		}
	})
}

func TestSummary(t *testing.T) {
	t.Run("AllPass", func(t *testing.T) {
		var buf bytes.Buffer
		code := Summary(&buf, []*RunReport{
			{Outcome: OutcomePass},
			{Outcome: OutcomePass},
			{Outcome: OutcomeSkip},
		})
		if code != 0 {
			t.Errorf("exit code = %d, want 0 (skips are not failures)", code)
		}
		if !strings.Contains(buf.String(), "Passed: 2/2") {
			t.Errorf("summary = %q", buf.String())
		}
	})

	t.Run("WithFailure", func(t *testing.T) {
		var buf bytes.Buffer
		code := Summary(&buf, []*RunReport{
			{Outcome: OutcomePass},
			{Outcome: OutcomeFail},
		})
		if code != 1 {
			t.Errorf("exit code = %d, want 1", code)
		}
		if !strings.Contains(buf.String(), "Passed: 1/2") {
			t.Errorf("summary = %q", buf.String())
		}
	})
}

func TestTailExcerpt(t *testing.T) {
	tail := "a\nb\nc\nd\ne\n"
	if got := TailExcerpt(tail, 3); got != "c\nd\ne" {
		t.Errorf("TailExcerpt = %q", got)
	}
	if got := TailExcerpt("", 3); got != "" {
		t.Errorf("TailExcerpt(empty) = %q", got)
	}
	if got := TailExcerpt("one line", 5); got != "one line" {
		t.Errorf("TailExcerpt(short) = %q", got)
	}
}
