package ble

import (
	"fmt"
	"strings"

	"tinygo.org/x/bluetooth"
)

// SystemInfo is the payload of the system_get_info response and the
// system_boot event.
type SystemInfo struct {
	Major, Minor, Patch, Build uint16
	LLVersion                  uint16
	ProtocolVersion            uint8
	HW                         uint8
}

func systemInfoFrom(f Fields) SystemInfo {
	return SystemInfo{
		Major:           f.Uint16("major"),
		Minor:           f.Uint16("minor"),
		Patch:           f.Uint16("patch"),
		Build:           f.Uint16("build"),
		LLVersion:       f.Uint16("ll_version"),
		ProtocolVersion: f.Uint8("protocol_version"),
		HW:              f.Uint8("hw"),
	}
}

func (i SystemInfo) String() string {
	return fmt.Sprintf("%d.%d.%d build %d (ll %d, protocol %d, hw %d)",
		i.Major, i.Minor, i.Patch, i.Build, i.LLVersion, i.ProtocolVersion, i.HW)
}

// ConnectionStatus is the connection_status event.
type ConnectionStatus struct {
	Connection   uint8
	Flags        uint8
	Address      bluetooth.MAC
	AddressType  AddressType
	ConnInterval uint16
	Timeout      uint16
	Latency      uint16
	Bonding      uint8
}

func (c ConnectionStatus) Connected() bool { return c.Flags&ConnFlagConnected != 0 }
func (c ConnectionStatus) Encrypted() bool { return c.Flags&ConnFlagEncrypted != 0 }

// Completed is set on the first status after a link is established.
func (c ConnectionStatus) Completed() bool { return c.Flags&ConnFlagCompleted != 0 }

// Bonded reports whether the peer has a bonding entry (0xff means none).
func (c ConnectionStatus) Bonded() bool { return c.Bonding != 0xff }

// ConnectionDisconnected is the connection_disconnected event.
type ConnectionDisconnected struct {
	Connection uint8
	Reason     Result
}

// ScanResponse is one gap_scan_response event.
type ScanResponse struct {
	RSSI        int8
	PacketType  uint8
	Sender      bluetooth.MAC
	AddressType AddressType
	Bond        uint8
	Data        []byte
}

// Address renders the sender most-significant byte first.
func (r ScanResponse) Address() string { return r.Sender.String() }

// LocalName returns the complete or shortened local name from the
// advertising data, preferring the complete one. Malformed AD structures
// end the scan.
func (r ScanResponse) LocalName() string {
	var short string
	for data := r.Data; len(data) > 0; {
		n := int(data[0])
		if n == 0 || n >= len(data) {
			break
		}
		adType, value := data[1], data[2:1+n]
		switch adType {
		case adTypeCompleteName:
			return string(value)
		case adTypeShortName:
			if short == "" {
				short = string(value)
			}
		}
		data = data[1+n:]
	}
	return short
}

func (r ScanResponse) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s rssi=%d", r.Address(), r.RSSI)
	if name := r.LocalName(); name != "" {
		fmt.Fprintf(&sb, " name=%q", name)
	}
	return sb.String()
}

// OnSystemInfo installs fn for the system_get_info response.
func (s *Session) OnSystemInfo(fn func(SystemInfo) error) error {
	return s.OnResponse("system_get_info", func(m *Message) error {
		return fn(systemInfoFrom(m.Fields))
	})
}

// OnSystemBoot installs fn for the system_boot event.
func (s *Session) OnSystemBoot(fn func(SystemInfo) error) error {
	return s.OnEvent("system_boot", func(m *Message) error {
		return fn(systemInfoFrom(m.Fields))
	})
}

// OnGapSetMode installs fn for the gap_set_mode response.
func (s *Session) OnGapSetMode(fn func(Result) error) error {
	return s.onResult("gap_set_mode", fn)
}

// OnGapDiscover installs fn for the gap_discover response.
func (s *Session) OnGapDiscover(fn func(Result) error) error {
	return s.onResult("gap_discover", fn)
}

func (s *Session) onResult(name string, fn func(Result) error) error {
	return s.OnResponse(name, func(m *Message) error {
		return fn(Result(m.Fields.Uint16("result")))
	})
}

// OnScanResponse installs fn for gap_scan_response events.
func (s *Session) OnScanResponse(fn func(ScanResponse) error) error {
	return s.OnEvent("gap_scan_response", func(m *Message) error {
		f := m.Fields
		return fn(ScanResponse{
			RSSI:        f.Int8("rssi"),
			PacketType:  f.Uint8("packet_type"),
			Sender:      f.Address("sender"),
			AddressType: AddressType(f.Uint8("address_type")),
			Bond:        f.Uint8("bond"),
			Data:        f.Bytes("data"),
		})
	})
}

// OnConnectionStatus installs fn for connection_status events.
func (s *Session) OnConnectionStatus(fn func(ConnectionStatus) error) error {
	return s.OnEvent("connection_status", func(m *Message) error {
		f := m.Fields
		return fn(ConnectionStatus{
			Connection:   f.Uint8("connection"),
			Flags:        f.Uint8("flags"),
			Address:      f.Address("address"),
			AddressType:  AddressType(f.Uint8("address_type")),
			ConnInterval: f.Uint16("conn_interval"),
			Timeout:      f.Uint16("timeout"),
			Latency:      f.Uint16("latency"),
			Bonding:      f.Uint8("bonding"),
		})
	})
}

// OnConnectionDisconnected installs fn for connection_disconnected events.
func (s *Session) OnConnectionDisconnected(fn func(ConnectionDisconnected) error) error {
	return s.OnEvent("connection_disconnected", func(m *Message) error {
		return fn(ConnectionDisconnected{
			Connection: m.Fields.Uint8("connection"),
			Reason:     Result(m.Fields.Uint16("reason")),
		})
	})
}
