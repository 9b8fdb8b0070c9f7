// Package scenario loads and validates HCL scenario files: which VM to
// launch, which assets it needs, what the console must show, and which
// launch failures are environment gaps rather than defects.
package scenario

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"

	"grimm.is/bootlab/internal/asset"
	"grimm.is/bootlab/internal/verify"
	"grimm.is/bootlab/internal/vmm"
)

// Scenario is one boot-verification case: a VM definition plus the
// checkpoints that prove it booted.
type Scenario struct {
	Name        string      `hcl:"name" json:"name"`
	Arch        string      `hcl:"arch,optional" json:"arch,omitempty"`
	Description string      `hcl:"description,optional" json:"description,omitempty"`
	Requires    *Requires   `hcl:"requires,block" json:"requires,omitempty"`
	Assets      []AssetSpec `hcl:"asset,block" json:"assets,omitempty"`
	Disks       []DiskSpec  `hcl:"disk,block" json:"disks,omitempty"`
	VM          *VMSpec     `hcl:"vm,block" json:"vm"`
	Boot        *BootSpec   `hcl:"boot,block" json:"boot"`
	Skips       []SkipSpec  `hcl:"skip,block" json:"skips,omitempty"`
}

// Requires lists host capabilities the scenario cannot run without.
// Missing ones turn the run into a skip, not a failure.
type Requires struct {
	Commands    []string `hcl:"commands,optional" json:"commands,omitempty"`
	Accelerator string   `hcl:"accelerator,optional" json:"accelerator,omitempty"`
}

// AssetSpec names a remote artifact and its digest. Unpack extracts it
// as a tar archive into the scratch area; Uncompress decompresses a
// standalone compressed file (a disk image, typically).
type AssetSpec struct {
	Name       string `hcl:"name,label" json:"name"`
	URL        string `hcl:"url" json:"url"`
	SHA256     string `hcl:"sha256" json:"sha256"`
	Unpack     bool   `hcl:"unpack,optional" json:"unpack,omitempty"`
	Uncompress bool   `hcl:"uncompress,optional" json:"uncompress,omitempty"`
}

// DiskSpec creates a scratch image in the run's work area: either a
// fresh one of the given size or a copy-on-write overlay on a backing
// image (which may reference a resolved asset).
type DiskSpec struct {
	Name    string `hcl:"name,label" json:"name"`
	Size    string `hcl:"size,optional" json:"size,omitempty"`
	Backing string `hcl:"backing,optional" json:"backing,omitempty"`
}

// VMSpec is the caller-assembled launch definition. Args may use the
// run-time placeholders {asset:NAME}, {disk:NAME} and {console}, and
// the HCL-time variables ${arch} and ${os}.
type VMSpec struct {
	Binary         string       `hcl:"binary" json:"binary"`
	Args           []string     `hcl:"args" json:"args"`
	Env            []string     `hcl:"env,optional" json:"env,omitempty"`
	ConnectTimeout int          `hcl:"connect_timeout,optional" json:"connect_timeout,omitempty"` // seconds
	Console        *ConsoleSpec `hcl:"console,block" json:"console,omitempty"`
}

// ConsoleSpec overrides how the console endpoint is exposed. Left out,
// the run uses a unix socket in its scratch directory.
type ConsoleSpec struct {
	Transport string `hcl:"transport,optional" json:"transport,omitempty"`
	Path      string `hcl:"path,optional" json:"path,omitempty"`
	Addr      string `hcl:"addr,optional" json:"addr,omitempty"`
	CID       uint32 `hcl:"cid,optional" json:"cid,omitempty"`
	Port      uint32 `hcl:"port,optional" json:"port,omitempty"`
}

// BootSpec declares the checkpoints of a successful boot.
type BootSpec struct {
	Marker         string     `hcl:"marker" json:"marker"`
	PanicMarker    string     `hcl:"panic_marker,optional" json:"panic_marker,omitempty"`
	Timeout        int        `hcl:"timeout,optional" json:"timeout,omitempty"`                 // seconds
	CommandTimeout int        `hcl:"command_timeout,optional" json:"command_timeout,omitempty"` // seconds
	Login          *LoginSpec `hcl:"login,block" json:"login,omitempty"`
	Steps          []StepSpec `hcl:"step,block" json:"steps,omitempty"`
}

type LoginSpec struct {
	User   string `hcl:"user" json:"user"`
	Prompt string `hcl:"prompt" json:"prompt"`
}

// StepSpec is one protocol step. An empty send makes it a pure wait,
// for output that arrives without prompting (a nested guest booting,
// a delayed banner). A nonzero timeout overrides the boot block's
// command_timeout for this step only.
type StepSpec struct {
	Send    string `hcl:"send,optional" json:"send,omitempty"`
	Expect  string `hcl:"expect" json:"expect"`
	Timeout int    `hcl:"timeout,optional" json:"timeout,omitempty"` // seconds
}

// SkipSpec converts a known launch-failure signature into a skip.
// Order in the file is match order.
type SkipSpec struct {
	Match  string `hcl:"match" json:"match"`
	Reason string `hcl:"reason" json:"reason"`
}

const (
	defaultPanicMarker    = "Kernel panic - not syncing"
	defaultBootTimeout    = 360 // seconds
	defaultCommandTimeout = 90  // seconds
)

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	return Parse(filepath.Base(path), data)
}

// Parse decodes scenario source. The filename determines the syntax;
// anything without a known extension is treated as native HCL.
func Parse(filename string, data []byte) (*Scenario, error) {
	if !strings.HasSuffix(filename, ".hcl") && !strings.HasSuffix(filename, ".json") {
		filename += ".hcl"
	}
	if _, diags := hclwrite.ParseConfig(data, filename, hcl.Pos{Line: 1, Column: 1}); diags.HasErrors() {
		return nil, fmt.Errorf("parsing scenario: %s", diags.Error())
	}

	var sc Scenario
	if err := hclsimple.Decode(filename, data, evalContext(), &sc); err != nil {
		return nil, fmt.Errorf("decoding scenario: %w", err)
	}
	sc.applyDefaults()
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}
	return &sc, nil
}

// Format canonicalizes HCL source without changing its meaning.
func Format(src []byte) []byte {
	return hclwrite.Format(src)
}

// evalContext exposes host facts to scenario files, so one file can say
// binary = "qemu-system-${arch}" instead of hardcoding a build host.
func evalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"arch": cty.StringVal(HostArch()),
			"os":   cty.StringVal(runtime.GOOS),
		},
	}
}

// HostArch returns the host architecture in QEMU naming.
func HostArch() string {
	switch runtime.GOARCH {
	case "arm64":
		return "aarch64"
	case "amd64":
		return "x86_64"
	default:
		return runtime.GOARCH
	}
}

func (s *Scenario) applyDefaults() {
	if s.Boot != nil {
		if s.Boot.PanicMarker == "" {
			s.Boot.PanicMarker = defaultPanicMarker
		}
		if s.Boot.Timeout == 0 {
			s.Boot.Timeout = defaultBootTimeout
		}
		if s.Boot.CommandTimeout == 0 {
			s.Boot.CommandTimeout = defaultCommandTimeout
		}
	}
}

// Validate checks everything that can be checked without touching the
// network or launching anything.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("scenario has no name")
	}
	if s.VM == nil {
		return fmt.Errorf("missing vm block")
	}
	if s.VM.Binary == "" {
		return fmt.Errorf("vm block has no binary")
	}
	if s.Boot == nil {
		return fmt.Errorf("missing boot block")
	}
	if s.Boot.Marker == "" {
		return fmt.Errorf("boot block has no marker")
	}
	for i, st := range s.Boot.Steps {
		if st.Expect == "" {
			return fmt.Errorf("step %d has no expect", i)
		}
		if st.Timeout < 0 {
			return fmt.Errorf("step %d has a negative timeout", i)
		}
	}

	seen := make(map[string]bool)
	for _, a := range s.Assets {
		if seen[a.Name] {
			return fmt.Errorf("duplicate asset %q", a.Name)
		}
		seen[a.Name] = true
		if len(a.SHA256) != 64 {
			return fmt.Errorf("asset %q: sha256 must be 64 hex characters, got %d", a.Name, len(a.SHA256))
		}
		if a.Unpack && a.Uncompress {
			return fmt.Errorf("asset %q: unpack and uncompress are mutually exclusive", a.Name)
		}
	}

	seen = make(map[string]bool)
	for _, d := range s.Disks {
		if seen[d.Name] {
			return fmt.Errorf("duplicate disk %q", d.Name)
		}
		seen[d.Name] = true
		if (d.Size == "") == (d.Backing == "") {
			return fmt.Errorf("disk %q: exactly one of size or backing is required", d.Name)
		}
	}

	if c := s.VM.Console; c != nil && c.Transport != "" {
		switch c.Transport {
		case vmm.TransportUnix, vmm.TransportTCP, vmm.TransportVsock:
		default:
			return fmt.Errorf("unknown console transport %q", c.Transport)
		}
	}

	for i, sk := range s.Skips {
		if sk.Match == "" || sk.Reason == "" {
			return fmt.Errorf("skip rule %d needs both match and reason", i)
		}
	}
	return nil
}

// Check verifies the host satisfies the scenario's requirements,
// returning a SkipCondition when it does not.
func (r *Requires) Check() error {
	if r == nil {
		return nil
	}
	for _, cmd := range r.Commands {
		if _, err := exec.LookPath(cmd); err != nil {
			return &verify.SkipCondition{Reason: fmt.Sprintf("required command %q not installed", cmd)}
		}
	}
	switch r.Accelerator {
	case "", "tcg":
		// Software emulation needs nothing from the host.
	case "kvm":
		if _, err := os.Stat("/dev/kvm"); err != nil {
			return &verify.SkipCondition{Reason: "kvm not available on this host"}
		}
	case "hvf":
		if runtime.GOOS != "darwin" {
			return &verify.SkipCondition{Reason: "hvf requires macOS"}
		}
	default:
		return fmt.Errorf("unknown accelerator %q", r.Accelerator)
	}
	return nil
}

// CacheAssets converts the asset blocks for the asset store.
func (s *Scenario) CacheAssets() []asset.Asset {
	out := make([]asset.Asset, 0, len(s.Assets))
	for _, a := range s.Assets {
		out = append(out, asset.Asset{Name: a.Name, URL: a.URL, SHA256: a.SHA256})
	}
	return out
}

// Params converts the boot block into protocol parameters.
func (s *Scenario) Params() verify.Params {
	p := verify.Params{
		BootMarker:  s.Boot.Marker,
		PanicMarker: s.Boot.PanicMarker,
		BootTimeout: time.Duration(s.Boot.Timeout) * time.Second,
		StepTimeout: time.Duration(s.Boot.CommandTimeout) * time.Second,
	}
	if s.Boot.Login != nil {
		p.Login = &verify.Login{User: s.Boot.Login.User, Prompt: s.Boot.Login.Prompt}
	}
	for _, st := range s.Boot.Steps {
		p.Steps = append(p.Steps, verify.Step{
			Command: st.Send,
			Expect:  st.Expect,
			Timeout: time.Duration(st.Timeout) * time.Second,
		})
	}
	return p
}

// SkipRules converts the skip blocks, preserving file order.
func (s *Scenario) SkipRules() []verify.SkipRule {
	out := make([]verify.SkipRule, 0, len(s.Skips))
	for _, sk := range s.Skips {
		out = append(out, verify.SkipRule{Match: sk.Match, Reason: sk.Reason})
	}
	return out
}

// ConsoleConfig builds the endpoint config, defaulting to a unix socket
// under scratchDir when the scenario does not say otherwise.
func (s *Scenario) ConsoleConfig(scratchDir string) vmm.ConsoleConfig {
	c := s.VM.Console
	if c == nil || c.Transport == "" || c.Transport == vmm.TransportUnix {
		path := ""
		if c != nil {
			path = c.Path
		}
		if path == "" {
			path = filepath.Join(scratchDir, "console.sock")
		}
		return vmm.ConsoleConfig{Transport: vmm.TransportUnix, Path: path}
	}
	return vmm.ConsoleConfig{
		Transport: c.Transport,
		Path:      c.Path,
		Addr:      c.Addr,
		CID:       c.CID,
		Port:      c.Port,
	}
}
