package ble

// Bluegiga BGAPI enumerations (BLE112/BLED112 API reference).

// DiscoverableMode is the gap_set_mode discoverability argument.
type DiscoverableMode uint8

const (
	GapNonDiscoverable     DiscoverableMode = 0
	GapLimitedDiscoverable DiscoverableMode = 1
	GapGeneralDiscoverable DiscoverableMode = 2
	GapBroadcast           DiscoverableMode = 3
	// GapUserData advertises the data set with gap_set_adv_data.
	GapUserData DiscoverableMode = 4
)

// ConnectableMode is the gap_set_mode connectability argument.
type ConnectableMode uint8

const (
	GapNonConnectable          ConnectableMode = 0
	GapDirectedConnectable     ConnectableMode = 1
	GapUndirectedConnectable   ConnectableMode = 2
	GapScannableNonConnectable ConnectableMode = 3
)

// DiscoverMode is the gap_discover argument.
type DiscoverMode uint8

const (
	DiscoverLimited     DiscoverMode = 0
	DiscoverGeneric     DiscoverMode = 1
	DiscoverObservation DiscoverMode = 2
)

// AddressType qualifies a bd_addr.
type AddressType uint8

const (
	AddressPublic AddressType = 0
	AddressRandom AddressType = 1
)

// IOCapability is the security manager's pairing I/O capability.
type IOCapability uint8

const (
	IODisplayOnly     IOCapability = 0
	IODisplayYesNo    IOCapability = 1
	IOKeyboardOnly    IOCapability = 2
	IONoInputNoOutput IOCapability = 3
	IOKeyboardDisplay IOCapability = 4
)

// Advertising channel map bits for gap_set_adv_parameters.
const (
	AdvChannel37   uint8 = 0x01
	AdvChannel38   uint8 = 0x02
	AdvChannel39   uint8 = 0x04
	AdvChannelsAll       = AdvChannel37 | AdvChannel38 | AdvChannel39
)

// connection_status flags.
const (
	ConnFlagConnected       uint8 = 0x01
	ConnFlagEncrypted       uint8 = 0x02
	ConnFlagCompleted       uint8 = 0x04
	ConnFlagParameterChange uint8 = 0x08
)

// Advertising data types carrying the device name.
const (
	adTypeShortName    = 0x08
	adTypeCompleteName = 0x09
)
