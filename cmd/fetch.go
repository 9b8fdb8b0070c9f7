package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"grimm.is/bootlab/internal/asset"
	"grimm.is/bootlab/internal/brand"
	"grimm.is/bootlab/internal/scenario"
)

// RunFetch resolves every asset of the given scenarios into the cache
// without running anything. CI jobs use it to warm a shared cache
// before the actual runs.
func RunFetch(paths []string, cacheDir string) error {
	if len(paths) == 0 {
		return fmt.Errorf("usage: %s fetch <scenario%s>...", brand.BinaryName, brand.ScenarioFileExt)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := asset.New(cacheDir)
	if err != nil {
		return err
	}

	total := 0
	for _, path := range paths {
		sc, err := scenario.Load(path)
		if err != nil {
			return err
		}
		resolved, err := store.ResolveAll(ctx, sc.CacheAssets())
		if err != nil {
			return fmt.Errorf("scenario %s: %w", sc.Name, err)
		}
		for _, a := range sc.Assets {
			Printer.Printf("%-20s %s\n", a.Name, resolved[a.Name])
		}
		total += len(resolved)
	}

	Printer.Printf("Cached %d asset(s) in %s\n", total, cacheDir)
	return nil
}
