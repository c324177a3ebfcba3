package antpage

import "encoding/binary"

// Control is the generic control page (2)
type Control struct {
	Channel              byte
	CurrentNotifications byte
	DeviceCapabilities   byte
}

// GenericControlOnly advertises support for generic commands only
const GenericControlOnly byte = 0x10

// Encode lays out page 2, reserved bytes left zero
func (p Control) Encode() []byte {
	b := newPage(p.Channel, NumberControl)
	b[2] = p.CurrentNotifications
	// bytes 3..7 reserved, zero
	b[8] = p.DeviceCapabilities
	return b
}

// DecodeControl parses page 2. It fails with ErrShortPage or
// ErrWrongPageNumber, like every DecodeXxx of this package.
func DecodeControl(b []byte) (Control, error) {
	if err := check(b, NumberControl); err != nil {
		return Control{}, err
	}
	return Control{Channel: b[0], CurrentNotifications: b[2], DeviceCapabilities: b[8]}, nil
}

// ManufacturerInfo is common page 80
type ManufacturerInfo struct {
	Channel        byte
	Reserved1      byte
	Reserved2      byte
	HWRevision     byte
	ManufacturerID uint16
	ModelNumber    uint16
}

func (p ManufacturerInfo) Encode() []byte {
	b := newPage(p.Channel, NumberManufacturerInfo)
	b[2] = p.Reserved1
	b[3] = p.Reserved2
	b[4] = p.HWRevision
	binary.LittleEndian.PutUint16(b[5:7], p.ManufacturerID)
	binary.LittleEndian.PutUint16(b[7:9], p.ModelNumber)
	return b
}

// DecodeManufacturerInfo parses common page 80
func DecodeManufacturerInfo(b []byte) (ManufacturerInfo, error) {
	if err := check(b, NumberManufacturerInfo); err != nil {
		return ManufacturerInfo{}, err
	}
	return ManufacturerInfo{
		Channel:        b[0],
		Reserved1:      b[2],
		Reserved2:      b[3],
		HWRevision:     b[4],
		ManufacturerID: binary.LittleEndian.Uint16(b[5:7]),
		ModelNumber:    binary.LittleEndian.Uint16(b[7:9]),
	}, nil
}

// ProductInfo is common page 81
type ProductInfo struct {
	Channel        byte
	Reserved       byte
	SWRevisionSupp byte
	SWRevisionMain byte
	SerialNumber   uint32
}

func (p ProductInfo) Encode() []byte {
	b := newPage(p.Channel, NumberProductInfo)
	b[2] = p.Reserved
	b[3] = p.SWRevisionSupp
	b[4] = p.SWRevisionMain
	binary.LittleEndian.PutUint32(b[5:9], p.SerialNumber)
	return b
}

// DecodeProductInfo parses common page 81
func DecodeProductInfo(b []byte) (ProductInfo, error) {
	if err := check(b, NumberProductInfo); err != nil {
		return ProductInfo{}, err
	}
	return ProductInfo{
		Channel:        b[0],
		Reserved:       b[2],
		SWRevisionSupp: b[3],
		SWRevisionMain: b[4],
		SerialNumber:   binary.LittleEndian.Uint32(b[5:9]),
	}, nil
}

// BatteryStatus is common page 82. Only the channel is taken from the
// caller, every other field is a fixed placeholder.
type BatteryStatus struct {
	Channel byte
}

// Placeholder values of the battery status page
const (
	batteryReserved    byte = 0xFF
	batteryIdentifier  byte = 0x00
	batteryFracVoltage byte = 0x00
	// coarse voltage 0xF (invalid), status 1 (new), resolution 2 s
	batteryDescriptive byte = 0x1F
)

func (p BatteryStatus) Encode() []byte {
	b := newPage(p.Channel, NumberBatteryStatus)
	b[2] = batteryReserved
	b[3] = batteryIdentifier
	// bytes 4..6 cumulative operating time, zero
	b[7] = batteryFracVoltage
	b[8] = batteryDescriptive
	return b
}

// BatteryStatusFields is the full decoded content of page 82
type BatteryStatusFields struct {
	Channel             byte
	Reserved            byte
	Identifier          byte
	OperatingTime       uint32 // 24 bit
	FractionalVoltage   byte
	DescriptiveBitField byte
}

// DecodeBatteryStatus parses page 82 with the fields Encode fills in itself
func DecodeBatteryStatus(b []byte) (BatteryStatusFields, error) {
	if err := check(b, NumberBatteryStatus); err != nil {
		return BatteryStatusFields{}, err
	}
	return BatteryStatusFields{
		Channel:             b[0],
		Reserved:            b[2],
		Identifier:          b[3],
		OperatingTime:       uint32(b[4]) | uint32(b[5])<<8 | uint32(b[6])<<16,
		FractionalVoltage:   b[7],
		DescriptiveBitField: b[8],
	}, nil
}

// Request is common page 70, used by a slave to ask for a page
type Request struct {
	Channel               byte
	SlaveSerial           uint16
	Descriptor1           byte
	Descriptor2           byte
	RequestedTransmission byte // bits 0..6 number of times, bit 7 reply with acknowledged data
	RequestedPageNumber   byte
	CommandType           byte
}

// CommandType values of page 70
const (
	CommandTypeDataPage     byte = 0x01
	CommandTypeANTFSSession byte = 0x02
)

// NrTimes is how often the requested page must be sent, at least once
func (p Request) NrTimes() int {
	n := int(p.RequestedTransmission & 0x7F)
	if n == 0 {
		return 1
	}
	return n
}

// Acknowledged reports whether the reply should be sent as acknowledged data
func (p Request) Acknowledged() bool {
	return p.RequestedTransmission&0x80 != 0
}

func (p Request) Encode() []byte {
	b := newPage(p.Channel, NumberRequest)
	binary.LittleEndian.PutUint16(b[2:4], p.SlaveSerial)
	b[4] = p.Descriptor1
	b[5] = p.Descriptor2
	b[6] = p.RequestedTransmission
	b[7] = p.RequestedPageNumber
	b[8] = p.CommandType
	return b
}

// DecodeRequest parses a data page request (70)
func DecodeRequest(b []byte) (Request, error) {
	if err := check(b, NumberRequest); err != nil {
		return Request{}, err
	}
	return Request{
		Channel:               b[0],
		SlaveSerial:           binary.LittleEndian.Uint16(b[2:4]),
		Descriptor1:           b[4],
		Descriptor2:           b[5],
		RequestedTransmission: b[6],
		RequestedPageNumber:   b[7],
		CommandType:           b[8],
	}, nil
}

// Command status values of page 71
const (
	StatusPass          byte = 0
	StatusFail          byte = 1
	StatusNotSupported  byte = 2
	StatusRejected      byte = 3
	StatusPending       byte = 4
	StatusUninitialized byte = 255
)

// CommandStatus is common page 71
type CommandStatus struct {
	Channel             byte
	LastReceivedCommand byte
	Sequence            byte
	Status              byte
	Data                [4]byte
}

func (p CommandStatus) Encode() []byte {
	b := newPage(p.Channel, NumberCommandStatus)
	b[2] = p.LastReceivedCommand
	b[3] = p.Sequence
	b[4] = p.Status
	copy(b[5:9], p.Data[:])
	return b
}

// DecodeCommandStatus parses page 71
func DecodeCommandStatus(b []byte) (CommandStatus, error) {
	if err := check(b, NumberCommandStatus); err != nil {
		return CommandStatus{}, err
	}
	p := CommandStatus{
		Channel:             b[0],
		LastReceivedCommand: b[2],
		Sequence:            b[3],
		Status:              b[4],
	}
	copy(p.Data[:], b[5:9])
	return p, nil
}

// GenericCommand is the control page 73
type GenericCommand struct {
	Channel        byte
	SlaveSerial    uint16
	ManufacturerID uint16
	Sequence       byte
	Command        uint16
}

func (p GenericCommand) Encode() []byte {
	b := newPage(p.Channel, NumberGenericCommand)
	binary.LittleEndian.PutUint16(b[2:4], p.SlaveSerial)
	binary.LittleEndian.PutUint16(b[4:6], p.ManufacturerID)
	b[6] = p.Sequence
	binary.LittleEndian.PutUint16(b[7:9], p.Command)
	return b
}

// DecodeGenericCommand parses page 73 as sent by a remote control
func DecodeGenericCommand(b []byte) (GenericCommand, error) {
	if err := check(b, NumberGenericCommand); err != nil {
		return GenericCommand{}, err
	}
	return GenericCommand{
		Channel:        b[0],
		SlaveSerial:    binary.LittleEndian.Uint16(b[2:4]),
		ManufacturerID: binary.LittleEndian.Uint16(b[4:6]),
		Sequence:       b[6],
		Command:        binary.LittleEndian.Uint16(b[7:9]),
	}, nil
}
