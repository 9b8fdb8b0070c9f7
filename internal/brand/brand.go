// Package brand provides centralized identity constants for the harness.
// This makes it easy to fork or rename the tool by changing brand.json.
//
// The identity is loaded from brand.json at compile time via go:embed so
// scripts and packaging can read the same file.
package brand

import (
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
)

//go:embed brand.json
var brandJSON []byte

// Brand holds all identity information.
type Brand struct {
	Name            string `json:"name"`
	LowerName       string `json:"lowerName"`
	Vendor          string `json:"vendor"`
	Website         string `json:"website"`
	Repository      string `json:"repository"`
	Description     string `json:"description"`
	EnvPrefix       string `json:"envPrefix"`
	BinaryName      string `json:"binaryName"`
	ScenarioFileExt string `json:"scenarioFileExt"`
	Copyright       string `json:"copyright"`
	License         string `json:"license"`
}

var b Brand

func init() {
	if err := json.Unmarshal(brandJSON, &b); err != nil {
		panic("failed to parse brand.json: " + err.Error())
	}

	Name = b.Name
	LowerName = b.LowerName
	Vendor = b.Vendor
	Website = b.Website
	Repository = b.Repository
	Description = b.Description
	EnvPrefix = b.EnvPrefix
	BinaryName = b.BinaryName
	ScenarioFileExt = b.ScenarioFileExt
	Copyright = b.Copyright
	License = b.License
}

// Exported variables for convenience.
var (
	Name            string
	LowerName       string
	Vendor          string
	Website         string
	Repository      string
	Description     string
	EnvPrefix       string
	BinaryName      string
	ScenarioFileExt string
	Copyright       string
	License         string

	// Version is set at build time via -ldflags
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Get returns the full Brand struct.
func Get() Brand {
	return b
}

// UserAgent returns a User-Agent string for HTTP requests.
func UserAgent(version string) string {
	if version == "" {
		version = "dev"
	}
	return Name + "/" + version
}

// GetCacheDir returns the asset cache directory.
// Priority: BOOTLAB_CACHE_DIR > os.UserCacheDir()/bootlab > TempDir fallback
func GetCacheDir() string {
	if dir := os.Getenv(EnvPrefix + "_CACHE_DIR"); dir != "" {
		return dir
	}
	if base, err := os.UserCacheDir(); err == nil {
		return filepath.Join(base, LowerName)
	}
	return filepath.Join(os.TempDir(), LowerName+"-cache")
}

// GetScratchDir returns the base directory for per-run scratch workspaces.
// Priority: BOOTLAB_SCRATCH_DIR > TempDir
func GetScratchDir() string {
	if dir := os.Getenv(EnvPrefix + "_SCRATCH_DIR"); dir != "" {
		return dir
	}
	return filepath.Join(os.TempDir(), LowerName)
}
