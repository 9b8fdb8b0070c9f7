package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const checkScenario = `
name = "smoke"
arch = "aarch64"

vm {
  binary = "qemu-system-aarch64"
  args   = ["-M", "virt", "-nographic", "{console}"]
}

boot {
  marker = "buildroot login:"

  step {
    send   = "echo ok"
    expect = "ok"
  }
}
`

func TestRunCheck_ValidScenario(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "smoke.hcl")

	if err := os.WriteFile(path, []byte(checkScenario), 0644); err != nil {
		t.Fatalf("failed to write scenario: %v", err)
	}

	if err := RunCheck(path, false); err != nil {
		t.Errorf("RunCheck() error = %v, wantHclErr false", err)
	}

	if err := RunCheck(path, true); err != nil {
		t.Errorf("RunCheck() verbose error = %v, wantHclErr false", err)
	}
}

func TestRunCheck_InvalidScenario(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "invalid.hcl")

	invalid := `
vm {
    # Missing closing brace
`
	if err := os.WriteFile(path, []byte(invalid), 0644); err != nil {
		t.Fatalf("failed to write scenario: %v", err)
	}

	if err := RunCheck(path, false); err == nil {
		t.Error("RunCheck() error = nil, wantHclErr true")
	}
}

func TestRunCheck_MissingBootBlock(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "noboot.hcl")

	noBoot := `
name = "noboot"
vm {
  binary = "qemu-system-aarch64"
  args   = []
}
`
	if err := os.WriteFile(path, []byte(noBoot), 0644); err != nil {
		t.Fatalf("failed to write scenario: %v", err)
	}

	err := RunCheck(path, false)
	if err == nil {
		t.Fatal("RunCheck() error = nil, want validation error")
	}
	if !strings.Contains(err.Error(), "boot") {
		t.Errorf("error %q does not mention the missing boot block", err)
	}
}

func TestRunCheck_NoFile(t *testing.T) {
	if err := RunCheck("", false); err == nil {
		t.Error("RunCheck(\"\") error = nil, want usage error")
	}
}
