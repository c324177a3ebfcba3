package ant

import "encoding/binary"

// DefaultNetworkKey is the ANT+ network key, sent little-endian
const DefaultNetworkKey uint64 = 0x45C372BDFB21A5B9

// Channel types used in AssignChannel
const (
	ChannelTypeBidirectionalReceive  byte = 0x00 // slave
	ChannelTypeBidirectionalTransmit byte = 0x10 // master
)

func ResetSystem() []byte {
	return Compose(MsgResetSystem, []byte{0x00})
}

func AssignChannel(channel, channelType, network byte) []byte {
	return Compose(MsgAssignChannel, []byte{channel, channelType, network})
}

func UnassignChannel(channel byte) []byte {
	return Compose(MsgUnassignChannel, []byte{channel})
}

// SetChannelID sets the device number, device type and transmission type of a channel
func SetChannelID(channel byte, deviceNumber uint16, deviceTypeID, transmissionType byte) []byte {
	p := []byte{channel, 0, 0, deviceTypeID, transmissionType}
	binary.LittleEndian.PutUint16(p[1:3], deviceNumber)
	return Compose(MsgChannelID, p)
}

// ChannelPeriod is expressed in 1/32768 s units
func ChannelPeriod(channel byte, period uint16) []byte {
	p := []byte{channel, 0, 0}
	binary.LittleEndian.PutUint16(p[1:], period)
	return Compose(MsgChannelPeriod, p)
}

// ChannelSearchTimeout is expressed in 2.5 s units, 255 means infinite
func ChannelSearchTimeout(channel, timeout byte) []byte {
	return Compose(MsgChannelSearchTimeout, []byte{channel, timeout})
}

// ChannelRfFrequency offset from 2400 MHz
func ChannelRfFrequency(channel, frequency byte) []byte {
	return Compose(MsgChannelRfFrequency, []byte{channel, frequency})
}

func ChannelTransmitPower(channel, power byte) []byte {
	return Compose(MsgChannelTransmitPower, []byte{channel, power})
}

func SetNetworkKey(network byte, key uint64) []byte {
	p := make([]byte, 9)
	p[0] = network
	binary.LittleEndian.PutUint64(p[1:], key)
	return Compose(MsgSetNetworkKey, p)
}

func OpenChannel(channel byte) []byte {
	return Compose(MsgOpenChannel, []byte{channel})
}

func CloseChannel(channel byte) []byte {
	return Compose(MsgCloseChannel, []byte{channel})
}

// RequestMessage asks the dongle to send message id on channel
func RequestMessage(channel byte, id MessageID) []byte {
	return Compose(MsgRequestMessage, []byte{channel, byte(id)})
}

func BroadcastData(payload []byte) []byte {
	return Compose(MsgBroadcastData, payload)
}

func AcknowledgedData(payload []byte) []byte {
	return Compose(MsgAcknowledgedData, payload)
}
