package serial

import (
	"fmt"

	"github.com/gobwas/glob"
	"go.bug.st/serial/enumerator"
)

// PortInfo describes an enumerated serial port.
type PortInfo struct {
	Name        string
	Description string
	IsUSB       bool
	VID         string
	PID         string
}

// listPorts is swapped in tests.
var listPorts = enumerateDetailed

func enumerateDetailed() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:        d.Name,
			Description: d.Product,
			IsUSB:       d.IsUSB,
			VID:         d.VID,
			PID:         d.PID,
		})
	}
	return ports, nil
}

// ListPorts enumerates the serial ports on the host.
func ListPorts() ([]PortInfo, error) {
	return listPorts()
}

// FindPort returns the first port whose description matches the glob
// pattern, e.g. "*Arduino*". An empty pattern matches "*Arduino*".
func FindPort(pattern string) (string, error) {
	if pattern == "" {
		pattern = "*Arduino*"
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("compile port pattern %q: %w", pattern, err)
	}

	ports, err := listPorts()
	if err != nil {
		return "", fmt.Errorf("enumerate ports: %w", err)
	}
	for _, p := range ports {
		if g.Match(p.Description) {
			return p.Name, nil
		}
	}
	return "", ErrNoDevice
}
