package vmm

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/mdlayher/vsock"
)

// Console transports. On Linux with KVM, vsock avoids the socket-file
// lifecycle entirely; unix sockets work everywhere QEMU does.
const (
	TransportUnix  = "unix"
	TransportTCP   = "tcp"
	TransportVsock = "vsock"
)

// ConsoleConfig says where the VM exposes its console and how to reach
// it from the host.
type ConsoleConfig struct {
	Transport string
	Path      string // unix socket path
	Addr      string // tcp host:port
	CID       uint32 // vsock context ID
	Port      uint32 // vsock port
}

func (c ConsoleConfig) Validate() error {
	switch c.Transport {
	case TransportUnix:
		if c.Path == "" {
			return fmt.Errorf("unix console needs a socket path")
		}
	case TransportTCP:
		if c.Addr == "" {
			return fmt.Errorf("tcp console needs an address")
		}
	case TransportVsock:
		if c.CID < 3 {
			return fmt.Errorf("vsock console needs a guest CID >= 3, got %d", c.CID)
		}
		if c.Port == 0 {
			return fmt.Errorf("vsock console needs a port")
		}
	default:
		return fmt.Errorf("unknown console transport %q", c.Transport)
	}
	return nil
}

// dial makes one connection attempt. The launcher calls it in a retry
// loop until the VM's console endpoint comes up.
func (c ConsoleConfig) dial(timeout time.Duration) (net.Conn, error) {
	switch c.Transport {
	case TransportUnix:
		if _, err := os.Stat(c.Path); err != nil {
			return nil, err
		}
		return net.DialTimeout("unix", c.Path, timeout)
	case TransportTCP:
		return net.DialTimeout("tcp", c.Addr, timeout)
	case TransportVsock:
		return vsock.Dial(c.CID, c.Port, nil)
	default:
		return nil, fmt.Errorf("unknown console transport %q", c.Transport)
	}
}

// Args returns the QEMU arguments that expose the console on this
// endpoint, for callers assembling a command line. QEMU listens
// (server=on) without blocking startup (wait=off); the launcher dials.
func (c ConsoleConfig) Args() []string {
	switch c.Transport {
	case TransportUnix:
		return []string{
			"-chardev", fmt.Sprintf("socket,id=console0,path=%s,server=on,wait=off", c.Path),
			"-serial", "chardev:console0",
		}
	case TransportTCP:
		host, port, err := net.SplitHostPort(c.Addr)
		if err != nil {
			host, port = c.Addr, "0"
		}
		return []string{
			"-chardev", fmt.Sprintf("socket,id=console0,host=%s,port=%s,server=on,wait=off", host, port),
			"-serial", "chardev:console0",
		}
	case TransportVsock:
		// The guest image is expected to run its console on this vsock
		// port; which device node that is belongs to the scenario.
		return []string{
			"-device", fmt.Sprintf("vhost-vsock-pci,guest-cid=%d", c.CID),
		}
	default:
		return nil
	}
}
