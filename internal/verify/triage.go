package verify

import (
	"errors"
	"fmt"
	"strings"

	"grimm.is/bootlab/internal/logging"
	"grimm.is/bootlab/internal/vmm"
)

// SkipCondition marks a run that could not proceed because of an
// environment capability gap, not a defect. Callers record it as "not
// applicable" rather than "broken".
type SkipCondition struct {
	Reason string
}

func (e *SkipCondition) Error() string {
	return fmt.Sprintf("skipped: %s", e.Reason)
}

// SkipRule converts a known launch-failure signature into a skip. Match
// is a literal substring looked for in the launcher's diagnostic
// output; rules are checked in order and the first hit wins.
type SkipRule struct {
	Match  string
	Reason string
}

// LaunchFunc starts the VM and returns a connected console session.
type LaunchFunc func() (Console, error)

// AttemptLaunch runs launch and triages its failure, if any, against
// the rule table. A launch failure whose diagnostic output matches a
// rule becomes a SkipCondition; anything unrecognized is returned
// unchanged, because silently skipping unknown failures would mask
// real regressions. Only launch failures are triaged; nothing that
// happens after the console is up can be skipped.
func AttemptLaunch(launch LaunchFunc, rules []SkipRule) (Console, error) {
	cons, err := launch()
	if err == nil {
		return cons, nil
	}

	var lerr *vmm.LaunchError
	if errors.As(err, &lerr) {
		for _, rule := range rules {
			if strings.Contains(lerr.Output, rule.Match) {
				logging.WithComponent("verify").Info("launch failure matched skip rule",
					"match", rule.Match, "reason", rule.Reason)
				return nil, &SkipCondition{Reason: rule.Reason}
			}
		}
		logging.WithComponent("verify").Error("unrecognized launch failure", "error", err, "output", lerr.Output)
	}
	return nil, err
}
