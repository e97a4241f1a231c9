package ble

import "fmt"

// Result is the result code carried by most responses and some events.
// Zero means success.
type Result uint16

var resultNames = map[Result]string{
	0x0000: "success",
	// BGAPI errors
	0x0180: "invalid parameter",
	0x0181: "device in wrong state",
	0x0182: "out of memory",
	0x0183: "feature not implemented",
	0x0184: "command not recognized",
	0x0185: "timeout",
	0x0186: "not connected",
	0x0187: "flow",
	0x0188: "user attribute",
	0x0189: "invalid license key",
	0x018a: "command too long",
	0x018b: "out of bonds",
	0x018c: "script overflow",
	// Bluetooth controller errors
	0x0205: "authentication failure",
	0x0206: "pin or key missing",
	0x0207: "memory capacity exceeded",
	0x0208: "connection timeout",
	0x0209: "connection limit exceeded",
	0x020c: "command disallowed",
	0x0212: "invalid command parameters",
	0x0213: "remote user terminated connection",
	0x0216: "connection terminated by local host",
	0x0222: "ll response timeout",
	0x0228: "ll instant passed",
	0x023a: "controller busy",
	0x023b: "unacceptable connection interval",
	0x023c: "directed advertising timeout",
	0x023d: "mic failure",
	0x023e: "connection failed to be established",
	// Security manager errors
	0x0301: "passkey entry failed",
	0x0302: "oob data is not available",
	0x0303: "authentication requirements",
	0x0304: "confirm value failed",
	0x0305: "pairing not supported",
	0x0306: "encryption key size",
	0x0307: "command not supported",
	0x0308: "unspecified reason",
	0x0309: "repeated attempts",
	0x030a: "invalid parameters",
	// Attribute protocol errors
	0x0401: "invalid handle",
	0x0402: "read not permitted",
	0x0403: "write not permitted",
	0x0404: "invalid pdu",
	0x0405: "insufficient authentication",
	0x0406: "request not supported",
	0x0407: "invalid offset",
	0x0408: "insufficient authorization",
	0x0409: "prepare queue full",
	0x040a: "attribute not found",
	0x040b: "attribute not long",
	0x040c: "insufficient encryption key size",
	0x040d: "invalid attribute value length",
	0x040e: "unlikely error",
	0x040f: "insufficient encryption",
	0x0410: "unsupported group type",
	0x0411: "insufficient resources",
	0x0480: "application error codes",
}

func (r Result) String() string {
	if s, ok := resultNames[r]; ok {
		return s
	}
	return fmt.Sprintf("result 0x%04x", uint16(r))
}

// OK reports success.
func (r Result) OK() bool { return r == 0 }

// Err is nil on success and a *ResultError otherwise.
func (r Result) Err() error {
	if r == 0 {
		return nil
	}
	return &ResultError{Code: r}
}

// ResultError is a non-zero device result.
type ResultError struct {
	Code Result
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("ble: device error 0x%04x (%s)", uint16(e.Code), e.Code)
}
