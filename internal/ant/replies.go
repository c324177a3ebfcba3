package ant

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// ResponseNoError is the ChannelResponse code for success
const ResponseNoError byte = 0x00

// Channel events reported through ChannelResponse with message id 0x01
const (
	EventRxSearchTimeout byte = 0x01
	EventRxFail          byte = 0x02
	EventTx              byte = 0x03
	EventTransferRxFail  byte = 0x04
	EventTransferTxDone  byte = 0x05
	EventTransferTxFail  byte = 0x06
	EventChannelClosed   byte = 0x07
)

// ChannelResponseReply acknowledges a configuration command or reports a channel event
type ChannelResponseReply struct {
	Channel   byte
	MessageID MessageID // the command being answered, MsgRFEvent for events
	Code      byte
}

func (r ChannelResponseReply) OK() bool {
	return r.Code == ResponseNoError
}

func (r ChannelResponseReply) IsEvent() bool {
	return r.MessageID == MsgRFEvent
}

func expect(d Decoded, id MessageID, min int) error {
	if d.ID != id {
		return &WrongMessageIDError{Received: d.ID, Expected: id}
	}
	if len(d.Payload) < min {
		return fmt.Errorf("%s payload of %d bytes, need %d: %w", id, len(d.Payload), min, ErrShortMessage)
	}
	return nil
}

func ParseChannelResponse(d Decoded) (ChannelResponseReply, error) {
	if err := expect(d, MsgChannelResponse, 3); err != nil {
		return ChannelResponseReply{}, err
	}
	return ChannelResponseReply{
		Channel:   d.Payload[0],
		MessageID: MessageID(d.Payload[1]),
		Code:      d.Payload[2],
	}, nil
}

// ResetType describes why the dongle (re)started
type ResetType string

const (
	PowerOnReset     ResetType = "POWER_ON_RESET"
	HardwareReset    ResetType = "HARDWARE_RESET_LINE"
	WatchdogReset    ResetType = "WATCH_DOG_RESET"
	CommandReset     ResetType = "COMMAND_RESET"
	SynchronousReset ResetType = "SYNCHRONOUS_RESET"
	SuspendReset     ResetType = "SUSPEND_RESET"
)

// ParseStartUp decodes the reset reason bitfield of a StartUp message
func ParseStartUp(d Decoded) (ResetType, error) {
	if err := expect(d, MsgStartUp, 1); err != nil {
		return "", err
	}
	b := d.Payload[0]
	switch {
	case b == 0x00:
		return PowerOnReset, nil
	case b&0x01 != 0:
		return HardwareReset, nil
	case b&0x02 != 0:
		return WatchdogReset, nil
	case b&0x20 != 0:
		return CommandReset, nil
	case b&0x40 != 0:
		return SynchronousReset, nil
	default:
		return SuspendReset, nil
	}
}

// CapabilitiesReply holds the interesting part of a Capabilities message
type CapabilitiesReply struct {
	MaxChannels byte
	MaxNetworks byte
}

func ParseCapabilities(d Decoded) (CapabilitiesReply, error) {
	if err := expect(d, MsgCapabilities, 2); err != nil {
		return CapabilitiesReply{}, err
	}
	return CapabilitiesReply{MaxChannels: d.Payload[0], MaxNetworks: d.Payload[1]}, nil
}

// ParseVersion returns the zero terminated firmware version string
func ParseVersion(d Decoded) (string, error) {
	if err := expect(d, MsgANTVersion, 1); err != nil {
		return "", err
	}
	s := string(d.Payload)
	if i := strings.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return s, nil
}

// ChannelIDReply identifies the device a channel is talking to
type ChannelIDReply struct {
	Channel          byte
	DeviceNumber     uint16
	DeviceTypeID     byte
	TransmissionType byte
}

func ParseChannelID(d Decoded) (ChannelIDReply, error) {
	if err := expect(d, MsgChannelID, 5); err != nil {
		return ChannelIDReply{}, err
	}
	return ChannelIDReply{
		Channel:          d.Payload[0],
		DeviceNumber:     binary.LittleEndian.Uint16(d.Payload[1:3]),
		DeviceTypeID:     d.Payload[3],
		TransmissionType: d.Payload[4],
	}, nil
}
