package transport

import (
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"
)

// Bluegiga BLED112 USB identity.
const (
	BLED112VendorID  = "2458"
	BLED112ProductID = "0001"
)

// PortInfo describes one serial device found on the host.
type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
	Product      string
}

// IsBLED112 reports whether the USB identity matches a BLED112 dongle.
func (p PortInfo) IsBLED112() bool {
	return p.IsUSB && strings.EqualFold(p.VID, BLED112VendorID) && strings.EqualFold(p.PID, BLED112ProductID)
}

func (p PortInfo) String() string {
	if !p.IsUSB {
		return p.Name
	}
	s := fmt.Sprintf("%s [%s:%s]", p.Name, p.VID, p.PID)
	if p.Product != "" {
		s += " " + p.Product
	}
	if p.SerialNumber != "" {
		s += " serial=" + p.SerialNumber
	}
	return s
}

var listDetailed = enumerator.GetDetailedPortsList

// ListPorts enumerates serial devices.
func ListPorts() ([]PortInfo, error) {
	details, err := listDetailed()
	if err != nil {
		return nil, fmt.Errorf("transport: listing ports: %w", err)
	}
	out := make([]PortInfo, 0, len(details))
	for _, d := range details {
		out = append(out, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		})
	}
	return out, nil
}

// FindBLED112 returns the first port that looks like a BLED112.
func FindBLED112() (PortInfo, error) {
	ports, err := ListPorts()
	if err != nil {
		return PortInfo{}, err
	}
	for _, p := range ports {
		if p.IsBLED112() {
			return p, nil
		}
	}
	return PortInfo{}, fmt.Errorf("%w: no BLED112 dongle found", ErrConnection)
}
