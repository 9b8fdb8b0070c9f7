package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"grimm.is/bootlab/internal/asset"
	"grimm.is/bootlab/internal/brand"
	"grimm.is/bootlab/internal/console"
	"grimm.is/bootlab/internal/i18n"
	"grimm.is/bootlab/internal/logging"
	"grimm.is/bootlab/internal/report"
	"grimm.is/bootlab/internal/scenario"
	"grimm.is/bootlab/internal/timeouts"
	"grimm.is/bootlab/internal/verify"
	"grimm.is/bootlab/internal/vmm"
)

// Printer is the global message printer for the CLI
var Printer = i18n.NewCLIPrinter()

// RunScenarios executes each scenario file end to end: stage assets,
// launch the VM, drive the boot protocol, print one line per run and a
// final tally. Skipped scenarios count as successes for the exit code;
// failed ones do not.
func RunScenarios(paths []string, cacheDir, scratchBase string, keep bool) error {
	if len(paths) == 0 {
		return fmt.Errorf("usage: %s run [flags] <scenario%s>...", brand.BinaryName, brand.ScenarioFileExt)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := asset.New(cacheDir)
	if err != nil {
		return err
	}
	logging.Info("Harness starting", "scenarios", len(paths), "timeout_factor", timeouts.GetFactorString())

	reports := make([]*report.RunReport, 0, len(paths))
	for _, path := range paths {
		rep := runOne(ctx, store, path, scratchBase, keep)
		rep.Print(os.Stdout)
		reports = append(reports, rep)

		if ctx.Err() != nil {
			logging.Warn("Interrupted, skipping remaining scenarios")
			break
		}
	}

	var failed int
	for _, r := range reports {
		if r.Outcome == report.OutcomeFail {
			failed++
		}
	}
	Printer.Println()
	report.Summary(os.Stdout, reports)
	if failed > 0 {
		return fmt.Errorf("%d of %d scenarios failed", failed, len(reports))
	}
	return nil
}

// runOne stages and executes a single scenario, always producing a
// report. The scratch workspace survives failures (and --keep) so the
// console transcript stays inspectable; clean runs are swept away.
func runOne(ctx context.Context, store *asset.Store, path, scratchBase string, keep bool) *report.RunReport {
	sc, err := scenario.Load(path)
	if err != nil {
		return failReport(filepath.Base(path), err)
	}
	log := logging.WithComponent("run").WithFields(map[string]any{"scenario": sc.Name})

	// Host preflight: a missing requirement skips the scenario.
	if err := sc.Requires.Check(); err != nil {
		var skip *verify.SkipCondition
		if errors.As(err, &skip) {
			log.Info("Scenario skipped", "reason", skip.Reason)
			return report.Skip(sc.Name, skip.Reason)
		}
		return failReport(sc.Name, err)
	}

	runID := uuid.NewString()[:8]
	scratch := filepath.Join(scratchBase, fmt.Sprintf("%s-%s", sc.Name, runID))
	if err := os.MkdirAll(scratch, 0755); err != nil {
		return failReport(sc.Name, err)
	}
	log.Debug("Scratch workspace created", "dir", scratch)

	rep := execute(ctx, store, sc, scratch)

	if keep || rep.Outcome == report.OutcomeFail {
		log.Info("Scratch workspace kept", "dir", scratch)
	} else {
		os.RemoveAll(scratch)
	}
	return rep
}

func execute(ctx context.Context, store *asset.Store, sc *scenario.Scenario, scratch string) *report.RunReport {
	ws, err := prepareWorkspace(ctx, store, sc, scratch)
	if err != nil {
		return failReport(sc.Name, err)
	}

	consoleCfg := sc.ConsoleConfig(scratch)
	args, err := expandArgs(sc.VM.Args, ws.assets, ws.disks, consoleCfg.Args())
	if err != nil {
		return failReport(sc.Name, err)
	}

	transcriptPath := filepath.Join(scratch, "console.log")

	launch := func() (verify.Console, error) {
		machine, err := vmm.Launch(ctx, vmm.Config{
			Binary:         sc.VM.Binary,
			Args:           args,
			Dir:            scratch,
			ExtraEnv:       sc.VM.Env,
			Console:        consoleCfg,
			ConnectTimeout: time.Duration(sc.VM.ConnectTimeout) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		transcript, err := os.Create(transcriptPath)
		if err != nil {
			machine.Stop()
			return nil, err
		}
		sess := console.New(machine.Console(),
			console.WithProcess(machine),
			console.WithEcho(transcript),
		)
		return &vmConsole{Session: sess, machine: machine, transcript: transcript}, nil
	}

	runner := verify.NewRunner(sc.Params())
	res := runner.Execute(launch, sc.SkipRules())

	// A launch that never produced a console never produced a transcript.
	if _, err := os.Stat(transcriptPath); err != nil {
		transcriptPath = ""
	}
	return report.FromResult(sc.Name, res, transcriptPath)
}

// vmConsole ties the session, the machine, and the transcript file
// together so one Close tears all three down in order.
type vmConsole struct {
	*console.Session
	machine    *vmm.Machine
	transcript *os.File
}

func (c *vmConsole) Close() error {
	err := c.Session.Close()
	c.machine.Stop()
	c.transcript.Close()
	return err
}

func failReport(name string, err error) *report.RunReport {
	return &report.RunReport{
		Scenario:   name,
		Outcome:    report.OutcomeFail,
		Reason:     err.Error(),
		FailedStep: -1,
	}
}
