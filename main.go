package main

import (
	"flag"
	"os"

	"grimm.is/bootlab/cmd"
	"grimm.is/bootlab/internal/brand"
	"grimm.is/bootlab/internal/i18n"
	"grimm.is/bootlab/internal/logging"
	"grimm.is/bootlab/internal/timeouts"
)

var printer = i18n.NewCLIPrinter()

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runFlags := flag.NewFlagSet("run", flag.ExitOnError)
		cacheDir := runFlags.String("cache-dir", brand.GetCacheDir(), "Asset cache directory")
		runFlags.StringVar(cacheDir, "c", brand.GetCacheDir(), "Asset cache directory (short)")

		scratchDir := runFlags.String("scratch-dir", brand.GetScratchDir(), "Base directory for per-run workspaces")
		runFlags.StringVar(scratchDir, "s", brand.GetScratchDir(), "Base directory for per-run workspaces (short)")

		keep := runFlags.Bool("keep", false, "Keep scratch workspaces of passing runs too")
		runFlags.BoolVar(keep, "k", false, "Keep scratch workspaces (short)")

		debug := runFlags.Bool("debug", false, "Enable debug logging")
		runFlags.BoolVar(debug, "d", false, "Enable debug logging (short)")

		jsonLog := runFlags.Bool("json-log", false, "Emit logs as JSON")

		factor := runFlags.Float64("timeout-factor", 0, "Override the calibrated timeout factor")
		runFlags.Float64Var(factor, "t", 0, "Override the calibrated timeout factor (short)")

		runFlags.Parse(os.Args[2:])

		configureLogging(*debug, *jsonLog)
		if *factor > 0 {
			timeouts.SetFactor(*factor)
		}

		if err := cmd.RunScenarios(runFlags.Args(), *cacheDir, *scratchDir, *keep); err != nil {
			printer.Fprintf(os.Stderr, "Run failed: %v\n", err)
			os.Exit(1)
		}

	case "check":
		checkFlags := flag.NewFlagSet("check", flag.ExitOnError)
		verbose := checkFlags.Bool("verbose", false, "Verbose output")
		checkFlags.BoolVar(verbose, "v", false, "Verbose output (short)")
		checkFlags.Parse(os.Args[2:])

		var scenarioFile string
		if len(checkFlags.Args()) > 0 {
			scenarioFile = checkFlags.Arg(0)
		}

		if err := cmd.RunCheck(scenarioFile, *verbose); err != nil {
			printer.Fprintf(os.Stderr, "Check failed: %v\n", err)
			os.Exit(1)
		}

	case "fetch":
		fetchFlags := flag.NewFlagSet("fetch", flag.ExitOnError)
		cacheDir := fetchFlags.String("cache-dir", brand.GetCacheDir(), "Asset cache directory")
		fetchFlags.StringVar(cacheDir, "c", brand.GetCacheDir(), "Asset cache directory (short)")

		debug := fetchFlags.Bool("debug", false, "Enable debug logging")
		fetchFlags.BoolVar(debug, "d", false, "Enable debug logging (short)")

		fetchFlags.Parse(os.Args[2:])

		configureLogging(*debug, false)

		if err := cmd.RunFetch(fetchFlags.Args(), *cacheDir); err != nil {
			printer.Fprintf(os.Stderr, "Fetch failed: %v\n", err)
			os.Exit(1)
		}

	case "extract":
		extractFlags := flag.NewFlagSet("extract", flag.ExitOnError)
		uncompress := extractFlags.Bool("uncompress", false, "Decompress a single file instead of unpacking an archive")
		extractFlags.BoolVar(uncompress, "u", false, "Decompress a single file (short)")
		extractFlags.Parse(os.Args[2:])

		var src, dest string
		if len(extractFlags.Args()) > 0 {
			src = extractFlags.Arg(0)
		}
		if len(extractFlags.Args()) > 1 {
			dest = extractFlags.Arg(1)
		}

		if err := cmd.RunExtract(src, dest, *uncompress); err != nil {
			printer.Fprintf(os.Stderr, "Extract failed: %v\n", err)
			os.Exit(1)
		}

	case "diff":
		if len(os.Args) < 4 {
			printer.Println("Usage: " + brand.BinaryName + " diff <transcript-a> <transcript-b>")
			os.Exit(1)
		}
		if err := cmd.RunDiff(os.Args[2], os.Args[3]); err != nil {
			printer.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}

	case "version":
		// Print version info
		printer.Printf("%s version %s\n", brand.Name, brand.Version)
		printer.Printf("Build: %s\n", brand.BuildTime)

	case "help", "-h", "--help":
		printUsage()

	default:
		printer.Printf("Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func configureLogging(debug, jsonLog bool) {
	cfg := logging.DefaultConfig()
	if debug {
		cfg.Level = logging.LevelDebug
	}
	cfg.JSON = jsonLog
	logging.SetDefault(logging.New(cfg))
}

func printUsage() {
	printer.Printf(`%s - %s

Usage:
  %s <command> [options]

Core Commands:
  run       Execute boot scenarios end to end
            Options: --cache-dir (-c), --scratch-dir (-s), --keep (-k),
                     --debug (-d), --json-log, --timeout-factor (-t)
  check     Validate a scenario file
            Options: --verbose (-v)
  fetch     Prefetch scenario assets into the cache
            Options: --cache-dir (-c), --debug (-d)

Utility Commands:
  extract   Unpack an archive the way a scenario staging step would
            Options: --uncompress (-u)
  diff      Compare two console transcripts (boot noise stripped)
  version   Print version information

Environment:
  %s_CACHE_DIR        Asset cache location (default: user cache dir)
  %s_SCRATCH_DIR      Scratch workspace base (default: temp dir)
  %s_TIMEOUT_FACTOR   Timeout multiplier (default: calibrated at startup)

Examples:
  %s run scenarios/aarch64-virt-gicv3.hcl
  %s run --keep --debug scenarios/aarch64-virt-gpu.hcl
  %s check -v scenarios/aarch64-virt-rme.hcl
  %s fetch scenarios/*.hcl              # warm a CI cache
  %s diff passing.log failing.log

For command-specific help: %s <command> -h
`,
		brand.Name, brand.Description,
		brand.LowerName,
		brand.EnvPrefix, brand.EnvPrefix, brand.EnvPrefix,
		brand.LowerName, brand.LowerName, brand.LowerName, brand.LowerName,
		brand.LowerName,
		brand.LowerName)
}
