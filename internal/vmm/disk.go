package vmm

import (
	"fmt"
	"os/exec"
)

// CreateDisk makes an empty qcow2 scratch image, size in qemu-img
// notation ("8M", "1G").
func CreateDisk(path, size string) error {
	bin := FindBinary("qemu-img")
	cmd := exec.Command(bin, "create", "-f", "qcow2", path, size)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("creating disk (bin: %s): %v (%s)", bin, err, out)
	}
	return nil
}

// CreateOverlay makes a copy-on-write qcow2 overlay on top of backing,
// so a run never mutates a cached base image.
func CreateOverlay(backing, path string) error {
	bin := FindBinary("qemu-img")
	cmd := exec.Command(bin, "create", "-f", "qcow2", "-b", backing, "-F", "qcow2", path)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("creating overlay (bin: %s): %v (%s)", bin, err, out)
	}
	return nil
}
