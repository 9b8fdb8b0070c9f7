// Package vmm launches and supervises the virtual machine process under
// test. It owns process-group lifetime (a killed VM takes its children
// with it), captures early stdout/stderr for launch diagnostics, and
// connects the host side of the console endpoint.
package vmm

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"grimm.is/bootlab/internal/logging"
)

const (
	defaultConnectTimeout = 30 * time.Second
	defaultCaptureLimit   = 256 * 1024
	dialAttemptTimeout    = 500 * time.Millisecond
	dialPollInterval      = 100 * time.Millisecond
)

// Config describes one VM launch. Args are caller-assembled and opaque
// here; this package only needs to start the process and reach its
// console.
type Config struct {
	Binary         string
	Args           []string
	Dir            string
	ExtraEnv       []string
	Console        ConsoleConfig
	ConnectTimeout time.Duration
	CaptureLimit   int
}

// Machine is a running VM process with a connected console stream. It
// satisfies the console package's Process interface.
type Machine struct {
	cfg     Config
	cmd     *exec.Cmd
	conn    net.Conn
	capture *captureBuffer
	done    chan struct{}
	exitErr error
	log     *logging.Logger
}

// Launch starts the VM and dials its console endpoint, retrying until
// the endpoint accepts or the connect timeout expires. Every failure is
// a LaunchError carrying whatever the process wrote before dying, and
// no process outlives a failed launch.
func Launch(ctx context.Context, cfg Config) (*Machine, error) {
	if err := cfg.Console.Validate(); err != nil {
		return nil, &LaunchError{Err: err}
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.CaptureLimit == 0 {
		cfg.CaptureLimit = defaultCaptureLimit
	}

	m := &Machine{
		cfg:     cfg,
		capture: newCaptureBuffer(cfg.CaptureLimit),
		done:    make(chan struct{}),
		log:     logging.WithComponent("vmm"),
	}

	bin := FindBinary(cfg.Binary)
	cmd := exec.CommandContext(ctx, bin, cfg.Args...)
	cmd.Dir = cfg.Dir
	if len(cfg.ExtraEnv) > 0 {
		cmd.Env = append(os.Environ(), cfg.ExtraEnv...)
	}
	cmd.Stdout = m.capture
	cmd.Stderr = m.capture
	// Own process group so Kill takes every child down too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	m.cmd = cmd

	m.log.Info("launching vm", "binary", bin, "args", len(cfg.Args))
	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Output: m.capture.String(), Err: err}
	}
	go func() {
		m.exitErr = cmd.Wait()
		close(m.done)
	}()

	conn, err := m.connectConsole()
	if err != nil {
		m.Kill()
		<-m.done
		return nil, &LaunchError{Output: m.capture.String(), Err: err}
	}
	m.conn = conn
	m.log.Info("console connected", "transport", cfg.Console.Transport)
	return m, nil
}

// connectConsole polls the endpoint until it accepts, racing against
// the process exiting underneath us.
func (m *Machine) connectConsole() (net.Conn, error) {
	deadline := time.Now().Add(m.cfg.ConnectTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-m.done:
			return nil, fmt.Errorf("process exited before console ready: %w", m.exitErr)
		default:
		}
		if conn, err := m.cfg.Console.dial(dialAttemptTimeout); err == nil {
			return conn, nil
		}
		time.Sleep(dialPollInterval)
	}
	return nil, fmt.Errorf("console not ready after %v", m.cfg.ConnectTimeout)
}

// Console returns the connected console stream.
func (m *Machine) Console() net.Conn {
	return m.conn
}

// Output returns the process's captured stdout/stderr so far.
func (m *Machine) Output() string {
	return m.capture.String()
}

// Done is closed when the VM process exits.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

// ExitErr returns the process's exit error, or nil while it still runs.
func (m *Machine) ExitErr() error {
	select {
	case <-m.done:
		return m.exitErr
	default:
		return nil
	}
}

// Kill force-terminates the whole process group.
func (m *Machine) Kill() error {
	if m.cmd.Process == nil {
		return nil
	}
	if err := unix.Kill(-m.cmd.Process.Pid, unix.SIGKILL); err != nil {
		return m.cmd.Process.Kill()
	}
	return nil
}

// Stop closes the console, terminates the VM if it still runs, and
// waits for the process to be reaped.
func (m *Machine) Stop() error {
	if m.conn != nil {
		m.conn.Close()
	}
	select {
	case <-m.done:
		return nil
	default:
	}
	if err := m.Kill(); err != nil {
		m.log.Warn("killing vm", "error", err)
	}
	<-m.done
	m.log.Info("vm stopped")
	return nil
}

// FindBinary resolves name via PATH, falling back to common install
// locations, and finally to the name itself so the eventual exec error
// names what was asked for.
func FindBinary(name string) string {
	if p, err := exec.LookPath(name); err == nil {
		return p
	}
	extraPaths := []string{
		"/usr/local/bin/" + name,
		"/opt/homebrew/bin/" + name,
		"/usr/bin/" + name,
		"/bin/" + name,
	}
	for _, p := range extraPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return name
}
