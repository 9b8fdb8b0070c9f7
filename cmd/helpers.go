package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"grimm.is/bootlab/internal/archive"
	"grimm.is/bootlab/internal/asset"
	"grimm.is/bootlab/internal/scenario"
	"grimm.is/bootlab/internal/vmm"
)

var (
	reAssetRef = regexp.MustCompile(`\{asset:([^}]+)\}`)
	reDiskRef  = regexp.MustCompile(`\{disk:([^}]+)\}`)
)

// workspace is the staged per-run layout: every asset resolved to a
// usable path (extracted directory, uncompressed image, or the cache
// file itself) and every scratch disk created.
type workspace struct {
	assets map[string]string
	disks  map[string]string
}

// prepareWorkspace resolves the scenario's assets through the cache,
// stages unpack/uncompress assets under scratch, and creates scratch
// disks. Backing references in disk blocks may use {asset:NAME}.
func prepareWorkspace(ctx context.Context, store *asset.Store, sc *scenario.Scenario, scratch string) (*workspace, error) {
	ws := &workspace{
		assets: make(map[string]string),
		disks:  make(map[string]string),
	}

	cached, err := store.ResolveAll(ctx, sc.CacheAssets())
	if err != nil {
		return nil, err
	}

	for _, a := range sc.Assets {
		src := cached[a.Name]
		switch {
		case a.Unpack:
			dir := filepath.Join(scratch, "assets", a.Name)
			if err := archive.Extract(src, dir); err != nil {
				return nil, fmt.Errorf("unpacking asset %q: %w", a.Name, err)
			}
			ws.assets[a.Name] = dir
		case a.Uncompress:
			out := filepath.Join(scratch, "assets", a.Name+".img")
			if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
				return nil, err
			}
			if err := archive.Uncompress(src, out); err != nil {
				return nil, fmt.Errorf("uncompressing asset %q: %w", a.Name, err)
			}
			ws.assets[a.Name] = out
		default:
			ws.assets[a.Name] = src
		}
	}

	for _, d := range sc.Disks {
		path := filepath.Join(scratch, "disks", d.Name+".qcow2")
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
		if d.Backing != "" {
			backing, err := expandTokens(d.Backing, ws.assets, nil)
			if err != nil {
				return nil, fmt.Errorf("disk %q: %w", d.Name, err)
			}
			if err := vmm.CreateOverlay(backing, path); err != nil {
				return nil, err
			}
		} else if err := vmm.CreateDisk(path, d.Size); err != nil {
			return nil, err
		}
		ws.disks[d.Name] = path
	}

	return ws, nil
}

// expandArgs substitutes {asset:NAME} and {disk:NAME} references in VM
// arguments. A bare "{console}" argument is spliced into the endpoint's
// own argument list, which is usually more than one argv entry.
func expandArgs(args []string, assets, disks map[string]string, consoleArgs []string) ([]string, error) {
	out := make([]string, 0, len(args)+len(consoleArgs))
	for _, arg := range args {
		if arg == "{console}" {
			out = append(out, consoleArgs...)
			continue
		}
		if strings.Contains(arg, "{console}") {
			return nil, fmt.Errorf("{console} must be a standalone argument, got %q", arg)
		}
		expanded, err := expandTokens(arg, assets, disks)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", arg, err)
		}
		out = append(out, expanded)
	}
	return out, nil
}

func expandTokens(s string, assets, disks map[string]string) (string, error) {
	var missing []string
	s = reAssetRef.ReplaceAllStringFunc(s, func(m string) string {
		name := reAssetRef.FindStringSubmatch(m)[1]
		if p, ok := assets[name]; ok {
			return p
		}
		missing = append(missing, "asset:"+name)
		return m
	})
	s = reDiskRef.ReplaceAllStringFunc(s, func(m string) string {
		name := reDiskRef.FindStringSubmatch(m)[1]
		if p, ok := disks[name]; ok {
			return p
		}
		missing = append(missing, "disk:"+name)
		return m
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("unknown reference %s", strings.Join(missing, ", "))
	}
	return s, nil
}
