package ble

import (
	"fmt"

	"tinygo.org/x/bluetooth"

	blecrypto "github.com/chaz8081/bgapi-host/internal/ble/crypto"
)

// Each command below encodes and writes one frame and returns without
// waiting. Its response, if any, is delivered by a later ReadMessage.

// SystemReset restarts the dongle, optionally into the DFU bootloader. The
// device sends no response; it re-enumerates on USB and emits system_boot.
func (s *Session) SystemReset(dfu bool) error {
	return s.Send("system_reset", Fields{"boot_in_dfu": dfu})
}

func (s *Session) SystemHello() error {
	return s.Send("system_hello", nil)
}

func (s *Session) SystemAddressGet() error {
	return s.Send("system_address_get", nil)
}

func (s *Session) SystemGetCounters() error {
	return s.Send("system_get_counters", nil)
}

func (s *Session) SystemGetConnections() error {
	return s.Send("system_get_connections", nil)
}

// SystemGetInfo requests firmware and hardware versions.
func (s *Session) SystemGetInfo() error {
	return s.Send("system_get_info", nil)
}

// ConnectionDisconnect closes a link. The device answers with a response
// and later a connection_disconnected event.
func (s *Session) ConnectionDisconnect(connection uint8) error {
	return s.Send("connection_disconnect", Fields{"connection": connection})
}

func (s *Session) ConnectionGetRSSI(connection uint8) error {
	return s.Send("connection_get_rssi", Fields{"connection": connection})
}

// ConnectionGetStatus makes the device emit connection_status for the link.
func (s *Session) ConnectionGetStatus(connection uint8) error {
	return s.Send("connection_get_status", Fields{"connection": connection})
}

func (s *Session) SMEncryptStart(handle uint8, bonding bool) error {
	return s.Send("sm_encrypt_start", Fields{"handle": handle, "bonding": bonding})
}

func (s *Session) SMSetBondableMode(bondable bool) error {
	return s.Send("sm_set_bondable_mode", Fields{"bondable": bondable})
}

// SMSetParameters configures pairing. minKeySize is 7 to 16 bytes.
func (s *Session) SMSetParameters(mitm bool, minKeySize uint8, io IOCapability) error {
	if minKeySize < 7 || minKeySize > 16 {
		return fmt.Errorf("ble: min key size %d out of range 7..16", minKeySize)
	}
	return s.Send("sm_set_parameters", Fields{
		"mitm":            mitm,
		"min_key_size":    minKeySize,
		"io_capabilities": uint8(io),
	})
}

// SMSetOOBData sets the 16-byte out-of-band key. An empty key disables OOB.
func (s *Session) SMSetOOBData(oob []byte) error {
	if len(oob) != 0 && len(oob) != blecrypto.OOBKeySize {
		return fmt.Errorf("ble: OOB data must be empty or %d bytes, got %d", blecrypto.OOBKeySize, len(oob))
	}
	return s.Send("sm_set_oob_data", Fields{"oob": oob})
}

// SMSetOOBSecret derives the OOB key for peer from a shared secret and
// installs it.
func (s *Session) SMSetOOBSecret(secret []byte, peer bluetooth.MAC) error {
	key, err := blecrypto.DeriveOOBKey(secret, peer)
	if err != nil {
		return err
	}
	return s.SMSetOOBData(key)
}

// GapSetMode sets advertising discoverability and connectability.
func (s *Session) GapSetMode(discover DiscoverableMode, connect ConnectableMode) error {
	return s.Send("gap_set_mode", Fields{"discover": uint8(discover), "connect": uint8(connect)})
}

// GapDiscover starts scanning; results arrive as gap_scan_response events
// until GapEndProcedure.
func (s *Session) GapDiscover(mode DiscoverMode) error {
	return s.Send("gap_discover", Fields{"mode": uint8(mode)})
}

// GapConnectDirect opens a link to addr. Intervals are in 1.25 ms units,
// timeout in 10 ms units.
func (s *Session) GapConnectDirect(addr bluetooth.MAC, addrType AddressType, intervalMin, intervalMax, timeout, latency uint16) error {
	if intervalMin > intervalMax {
		return fmt.Errorf("ble: connection interval min %d above max %d", intervalMin, intervalMax)
	}
	return s.Send("gap_connect_direct", Fields{
		"address":           addr,
		"addr_type":         uint8(addrType),
		"conn_interval_min": intervalMin,
		"conn_interval_max": intervalMax,
		"timeout":           timeout,
		"latency":           latency,
	})
}

func (s *Session) GapEndProcedure() error {
	return s.Send("gap_end_procedure", nil)
}

// GapSetScanParameters takes interval and window in 625 us units.
func (s *Session) GapSetScanParameters(interval, window uint16, active bool) error {
	if window > interval {
		return fmt.Errorf("ble: scan window %d exceeds interval %d", window, interval)
	}
	return s.Send("gap_set_scan_parameters", Fields{
		"scan_interval": interval,
		"scan_window":   window,
		"active":        active,
	})
}

// GapSetAdvParameters takes intervals in 625 us units and a channel map
// built from the AdvChannel bits.
func (s *Session) GapSetAdvParameters(intervalMin, intervalMax uint16, channels uint8) error {
	if intervalMin > intervalMax {
		return fmt.Errorf("ble: advertising interval min %d above max %d", intervalMin, intervalMax)
	}
	return s.Send("gap_set_adv_parameters", Fields{
		"adv_interval_min": intervalMin,
		"adv_interval_max": intervalMax,
		"adv_channels":     channels,
	})
}

// GapSetAdvData sets advertising (or scan response) data, at most 31 bytes.
func (s *Session) GapSetAdvData(scanResponse bool, data []byte) error {
	if len(data) > 31 {
		return fmt.Errorf("ble: advertising data is %d bytes, limit 31", len(data))
	}
	return s.Send("gap_set_adv_data", Fields{"set_scanrsp": scanResponse, "adv_data": data})
}

// HardwareSetSoftTimer arms a timer in 32.768 kHz ticks; zero stops it.
func (s *Session) HardwareSetSoftTimer(ticks uint32, handle uint8, singleShot bool) error {
	return s.Send("hardware_set_soft_timer", Fields{
		"time":        ticks,
		"handle":      handle,
		"single_shot": singleShot,
	})
}
