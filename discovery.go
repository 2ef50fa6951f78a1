package shelfarm

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.bug.st/serial/enumerator"
	"go.viam.com/rdk/logging"
)

// PortInfo describes a serial port that may host the motor controller.
type PortInfo struct {
	Name       string `json:"name"`
	Suffix     string `json:"suffix"`
	IsUSB      bool   `json:"is_usb"`
	VID        string `json:"vid,omitempty"`
	PID        string `json:"pid,omitempty"`
	Product    string `json:"product,omitempty"`
	Responding bool   `json:"responding"`
}

// DiscoveryOptions controls DiscoverPorts.
type DiscoveryOptions struct {
	// Probe attempts a handshake on each candidate and records whether it answered.
	Probe        bool
	Baudrate     int
	ProbeTimeout time.Duration
	Greeting     string
	Ack          string
	Opener       PortOpener
}

// DiscoverPorts lists candidate controller ports, optionally probing each one.
func DiscoverPorts(ctx context.Context, opts DiscoveryOptions, logger logging.Logger) ([]PortInfo, error) {
	details := enumerateSerialPorts(logger)
	logger.Debugf("Found %d total serial ports", len(details))

	names := make([]string, 0, len(details))
	for _, d := range details {
		names = append(names, d.Name)
	}
	candidates := filterCandidatePorts(names)
	logger.Debugf("Filtered to %d candidate ports", len(candidates))

	byName := make(map[string]*enumerator.PortDetails, len(details))
	for _, d := range details {
		byName[d.Name] = d
	}

	infos := make([]PortInfo, 0, len(candidates))
	for _, name := range candidates {
		select {
		case <-ctx.Done():
			return infos, ctx.Err()
		default:
		}

		info := PortInfo{Name: name, Suffix: extractPortSuffix(name)}
		if d := byName[name]; d != nil {
			info.IsUSB = d.IsUSB
			info.VID = d.VID
			info.PID = d.PID
			info.Product = d.Product
		}
		if opts.Probe {
			info.Responding = probePort(ctx, name, opts, logger)
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// probePort reports whether a controller on name completes the handshake.
func probePort(ctx context.Context, name string, opts DiscoveryOptions, logger logging.Logger) bool {
	if opts.Baudrate == 0 {
		opts.Baudrate = defaultBaudrate
	}
	if opts.ProbeTimeout == 0 {
		opts.ProbeTimeout = 500 * time.Millisecond
	}

	channel := NewCommandChannel(ChannelOptions{
		PortName: name,
		Greeting: opts.Greeting,
		Ack:      opts.Ack,
		Opener:   opts.Opener,
	}, logger)
	defer func() {
		if err := channel.Close(); err != nil {
			logger.Debugf("error closing probe of %s: %v", name, err)
		}
	}()

	if err := channel.Connect(ctx, opts.Baudrate, opts.ProbeTimeout); err != nil {
		logger.Debugf("No controller detected on %s: %v", name, err)
		return false
	}
	logger.Infof("Discovered motor controller on %s", name)
	return true
}

// filterCandidatePorts filters serial ports by platform-specific naming patterns
func filterCandidatePorts(ports []string) []string {
	candidates := []string{}
	for _, port := range ports {
		if isCandidatePort(port) {
			candidates = append(candidates, port)
		}
	}
	return candidates
}

var candidatePrefixes = []string{
	// Linux
	"/dev/ttyUSB", "/dev/ttyACM",
	// macOS
	"/dev/tty.usbmodem", "/dev/tty.usbserial", "/dev/cu.usbmodem", "/dev/cu.usbserial",
	// Windows
	"COM",
}

// isCandidatePort checks if a port looks like a USB serial adapter or board
func isCandidatePort(port string) bool {
	for _, prefix := range candidatePrefixes {
		if strings.HasPrefix(port, prefix) {
			return true
		}
	}
	return false
}

// extractPortSuffix extracts a friendly suffix from port path for naming
// /dev/ttyUSB0 -> "ttyUSB0"
// COM3 -> "COM3"
// /dev/tty.usbmodem123 -> "usbmodem123"
func extractPortSuffix(portPath string) string {
	base := filepath.Base(portPath)
	for _, prefix := range []string{"tty.", "cu."} {
		if strings.HasPrefix(base, prefix+"usb") {
			return strings.TrimPrefix(base, prefix)
		}
	}
	return base
}

func enumerateSerialPorts(logger logging.Logger) []*enumerator.PortDetails {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		logger.Warnf("failed to enumerate serial ports: %v", err)
		return nil
	}
	return ports
}
