package antdev

import "github.com/lowaak/smart-trainer/ant-bridge/internal/ant"

// Manufacturer ids
const (
	ManufacturerGarmin      uint16 = 1
	ManufacturerDynastream  uint16 = 15
	ManufacturerTacx        uint16 = 89
	ManufacturerTrainerRoad uint16 = 281
	ManufacturerDevelopment uint16 = 255
)

// ANT+ device type ids
const (
	DeviceTypeFE              byte = 17
	DeviceTypeHRM             byte = 120
	DeviceTypePWR             byte = 11
	DeviceTypeSCS             byte = 121
	DeviceTypeCTRL            byte = 16
	DeviceTypeBushidoBrake    byte = 81
	DeviceTypeBushidoHeadUnit byte = 82
	DeviceTypeVortex          byte = 61
	DeviceTypeVortexHeadUnit  byte = 62
)

// Transmission types
const (
	TransmissionPairing     byte = 0x00 // wildcard, used by slaves
	TransmissionIndependent byte = 0x05
)

const (
	// ANTPlusFrequency is 2457 MHz
	ANTPlusFrequency      byte = 57
	TransmitPower0dB      byte = 0x03
	DefaultSearchTimeout  byte = 12 // 30 s
	InfiniteSearchTimeout byte = 255
)

// Product identity broadcast on the manufacturer and product info pages
type ProductIdentity struct {
	ManufacturerID uint16
	ModelNumber    uint16
	HWRevision     byte
	SWRevisionSupp byte
	SWRevisionMain byte
	SerialNumber   uint32
}

var (
	identityFE = ProductIdentity{
		ManufacturerID: ManufacturerTacx,
		ModelNumber:    2875,
		HWRevision:     1,
		SWRevisionSupp: 1,
		SWRevisionMain: 1,
		SerialNumber:   19590705,
	}
	identityHRM = ProductIdentity{
		ManufacturerID: ManufacturerGarmin,
		ModelNumber:    0x33,
		HWRevision:     1,
		SWRevisionMain: 1,
		SerialNumber:   5975,
	}
	identityPWR = ProductIdentity{
		ManufacturerID: ManufacturerGarmin,
		ModelNumber:    2161,
		HWRevision:     1,
		SWRevisionSupp: 1,
		SWRevisionMain: 1,
		SerialNumber:   19570702,
	}
	identityCTRL = ProductIdentity{
		ManufacturerID: ManufacturerDevelopment,
		ModelNumber:    0x8385,
		HWRevision:     1,
		SWRevisionSupp: 1,
		SWRevisionMain: 1,
		SerialNumber:   1234,
	}
)

// ChannelConfig is the immutable radio configuration of one channel
type ChannelConfig struct {
	Name             string
	Master           bool
	ChannelType      byte
	Network          byte
	NetworkKey       uint64
	DeviceTypeID     byte
	DeviceNumber     uint16
	TransmissionType byte
	RfFrequency      byte
	Period           uint16 // 1/32768 s
	SearchTimeout    byte   // 2.5 s units
	TransmitPower    byte
}

func defaultConfig(name string, master bool, deviceType byte, deviceNumber uint16, period uint16) ChannelConfig {
	cfg := ChannelConfig{
		Name:          name,
		Master:        master,
		NetworkKey:    ant.DefaultNetworkKey,
		DeviceTypeID:  deviceType,
		DeviceNumber:  deviceNumber,
		RfFrequency:   ANTPlusFrequency,
		Period:        period,
		SearchTimeout: DefaultSearchTimeout,
		TransmitPower: TransmitPower0dB,
	}
	if master {
		cfg.ChannelType = ant.ChannelTypeBidirectionalTransmit
		cfg.TransmissionType = TransmissionIndependent
	} else {
		cfg.ChannelType = ant.ChannelTypeBidirectionalReceive
		cfg.TransmissionType = TransmissionPairing
	}
	return cfg
}

// FEConfig is the fitness equipment channel, 4 Hz
func FEConfig(master bool, deviceNumber uint16) ChannelConfig {
	return defaultConfig("FE", master, DeviceTypeFE, deviceNumber, 8192)
}

// HRMConfig is the heart rate channel, about 4 Hz
func HRMConfig(master bool, deviceNumber uint16) ChannelConfig {
	return defaultConfig("HRM", master, DeviceTypeHRM, deviceNumber, 8070)
}

// PWRConfig is the bicycle power channel, about 4 Hz
func PWRConfig(master bool, deviceNumber uint16) ChannelConfig {
	return defaultConfig("PWR", master, DeviceTypePWR, deviceNumber, 8182)
}

// SCSConfig is the speed and cadence channel, about 4 Hz
func SCSConfig(master bool, deviceNumber uint16) ChannelConfig {
	return defaultConfig("SCS", master, DeviceTypeSCS, deviceNumber, 8086)
}

// CTRLConfig is the controls channel, 4 Hz
func CTRLConfig(master bool, deviceNumber uint16) ChannelConfig {
	return defaultConfig("CTRL", master, DeviceTypeCTRL, deviceNumber, 8192)
}

// Tacx Bushido trainers use a private frequency and a faster period
func BushidoBrakeConfig(master bool, deviceNumber uint16) ChannelConfig {
	cfg := defaultConfig("BushidoBrake", master, DeviceTypeBushidoBrake, deviceNumber, 4096)
	cfg.RfFrequency = 60
	cfg.SearchTimeout = InfiniteSearchTimeout
	return cfg
}

// BushidoHeadUnitConfig is the channel between a Bushido brake and its head unit
func BushidoHeadUnitConfig(master bool, deviceNumber uint16) ChannelConfig {
	cfg := defaultConfig("BushidoHeadUnit", master, DeviceTypeBushidoHeadUnit, deviceNumber, 4096)
	cfg.RfFrequency = 60
	cfg.SearchTimeout = InfiniteSearchTimeout
	return cfg
}

// Tacx i-Vortex trainers and their head unit also talk on a private frequency
func VortexConfig(master bool, deviceNumber uint16) ChannelConfig {
	cfg := defaultConfig("Vortex", master, DeviceTypeVortex, deviceNumber, 8192)
	cfg.RfFrequency = 66
	return cfg
}

// VortexHeadUnitConfig is the i-Vortex head unit channel
func VortexHeadUnitConfig(master bool, deviceNumber uint16) ChannelConfig {
	cfg := defaultConfig("VortexHeadUnit", master, DeviceTypeVortexHeadUnit, deviceNumber, 8192)
	cfg.RfFrequency = 66
	return cfg
}

// ExploreConfigs are the wildcard slave channels opened to discover the
// masters around: any device number of the device type pairs
func ExploreConfigs() []ChannelConfig {
	return []ChannelConfig{
		HRMConfig(false, 0),
		FEConfig(false, 0),
		SCSConfig(false, 0),
		VortexConfig(false, 0),
		VortexHeadUnitConfig(false, 0),
	}
}
