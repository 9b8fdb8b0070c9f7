// Package verify drives a freshly launched VM through its boot
// checkpoints: wait for the boot marker, optionally log in, run an
// ordered list of command/expect pairs, and classify whatever goes
// wrong along the way.
package verify

import (
	"errors"
	"fmt"
	"time"

	"grimm.is/bootlab/internal/clock"
	"grimm.is/bootlab/internal/logging"
	"grimm.is/bootlab/internal/timeouts"
)

// State is the protocol's position. Launching is the start state;
// Halted and Failed are terminal.
type State int

const (
	StateLaunching State = iota
	StateAwaitingBootMarker
	StateAuthenticating
	StateRunningCommands
	StateHalted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateLaunching:
		return "launching"
	case StateAwaitingBootMarker:
		return "awaiting-boot-marker"
	case StateAuthenticating:
		return "authenticating"
	case StateRunningCommands:
		return "running-commands"
	case StateHalted:
		return "halted"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Step is one command to send and the output that proves it worked.
// A nonzero Timeout overrides the run's step timeout, for steps that
// are known to take much longer than a shell command (booting a nested
// guest, running a benchmark).
type Step struct {
	Command string
	Expect  string
	Timeout time.Duration
}

// Login describes the authentication exchange, for guests that present
// a login prompt before a shell.
type Login struct {
	User   string
	Prompt string
}

// Params configures one protocol run. Zero timeouts get defaults; both
// are scaled by the host calibration factor at run time, because a
// kernel boot and a shell command have very different latencies and
// both stretch together on a loaded machine.
type Params struct {
	BootMarker  string
	PanicMarker string
	Login       *Login
	Steps       []Step
	BootTimeout time.Duration
	StepTimeout time.Duration
}

const (
	defaultBootTimeout = 360 * time.Second
	defaultStepTimeout = 90 * time.Second
)

func (p *Params) normalize() {
	if p.BootTimeout == 0 {
		p.BootTimeout = defaultBootTimeout
	}
	if p.StepTimeout == 0 {
		p.StepTimeout = defaultStepTimeout
	}
}

// Console is the slice of the console session the protocol needs.
type Console interface {
	SendLine(line string) error
	WaitFor(success, failure string, timeout time.Duration) error
	Tail() string
	Close() error
}

// Result is the terminal outcome of a run.
type Result struct {
	State      State
	FailedStep int // index of the failing step, -1 if none
	Err        error
	Tail       string
	Elapsed    time.Duration
}

// Ok reports a clean halt.
func (r *Result) Ok() bool {
	return r.State == StateHalted
}

// Skipped reports an environment-limited outcome rather than a failure.
func (r *Result) Skipped() bool {
	var sc *SkipCondition
	return errors.As(r.Err, &sc)
}

// Runner executes the protocol once.
type Runner struct {
	params Params
	clk    clock.Clock
	log    *logging.Logger
	state  State
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithClock sets the time source used for elapsed measurements.
func WithClock(c clock.Clock) RunnerOption {
	return func(r *Runner) {
		r.clk = c
	}
}

func NewRunner(p Params, opts ...RunnerOption) *Runner {
	p.normalize()
	r := &Runner{
		params: p,
		clk:    &clock.RealClock{},
		log:    logging.WithComponent("verify"),
		state:  StateLaunching,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State returns the protocol's current position.
func (r *Runner) State() State {
	return r.state
}

func (r *Runner) set(s State) {
	r.log.Debug("state transition", "from", r.state.String(), "to", s.String())
	r.state = s
}

// Execute performs the whole protocol: launch through triage, then the
// console-driven phases. The session is closed before it returns, so a
// failed run never leaves a VM behind.
func (r *Runner) Execute(launch LaunchFunc, rules []SkipRule) *Result {
	start := r.clk.Now()
	if r.state != StateLaunching {
		return r.fail(start, -1, fmt.Errorf("protocol already terminal in state %s", r.state), nil)
	}

	cons, err := AttemptLaunch(launch, rules)
	if err != nil {
		return r.fail(start, -1, err, nil)
	}
	defer cons.Close()
	return r.run(start, cons)
}

// Run drives an already-connected console through the post-launch
// phases. Callers that manage their own launch use this directly.
func (r *Runner) Run(cons Console) *Result {
	start := r.clk.Now()
	if r.state != StateLaunching {
		return r.fail(start, -1, fmt.Errorf("protocol already terminal in state %s", r.state), cons)
	}
	return r.run(start, cons)
}

func (r *Runner) run(start time.Time, cons Console) *Result {
	p := r.params

	r.set(StateAwaitingBootMarker)
	bootTimeout := timeouts.Scale(p.BootTimeout)
	if err := cons.WaitFor(p.BootMarker, p.PanicMarker, bootTimeout); err != nil {
		return r.fail(start, -1, err, cons)
	}
	r.log.Info("boot marker matched", "marker", p.BootMarker, "elapsed", r.clk.Since(start).String())

	stepTimeout := timeouts.Scale(p.StepTimeout)
	if p.Login != nil {
		r.set(StateAuthenticating)
		if err := cons.SendLine(p.Login.User); err != nil {
			return r.fail(start, -1, err, cons)
		}
		if err := cons.WaitFor(p.Login.Prompt, p.PanicMarker, stepTimeout); err != nil {
			return r.fail(start, -1, err, cons)
		}
		r.log.Info("authenticated", "user", p.Login.User)
	}

	r.set(StateRunningCommands)
	for i, step := range p.Steps {
		r.log.Info("running step", "index", i, "command", step.Command)
		// A step without a command is a pure wait.
		if step.Command != "" {
			if err := cons.SendLine(step.Command); err != nil {
				return r.fail(start, i, err, cons)
			}
		}
		timeout := stepTimeout
		if step.Timeout > 0 {
			timeout = timeouts.Scale(step.Timeout)
		}
		if err := cons.WaitFor(step.Expect, p.PanicMarker, timeout); err != nil {
			return r.fail(start, i, err, cons)
		}
	}

	r.set(StateHalted)
	r.log.Info("protocol halted cleanly", "steps", len(p.Steps), "elapsed", r.clk.Since(start).String())
	return &Result{
		State:      StateHalted,
		FailedStep: -1,
		Tail:       cons.Tail(),
		Elapsed:    r.clk.Since(start),
	}
}

func (r *Runner) fail(start time.Time, step int, err error, cons Console) *Result {
	from := r.state
	r.set(StateFailed)
	res := &Result{
		State:      StateFailed,
		FailedStep: step,
		Err:        err,
		Elapsed:    r.clk.Since(start),
	}
	if cons != nil {
		res.Tail = cons.Tail()
	}
	if res.Skipped() {
		r.log.Info("run skipped", "reason", err.Error())
	} else {
		r.log.Error("protocol failed", "state", from.String(), "step", step, "error", err)
	}
	return res
}
