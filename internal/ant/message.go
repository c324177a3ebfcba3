package ant

// Message layout on the wire:
//   SYNC(1)=0xA4 | LEN(1) | MSG_ID(1) | PAYLOAD(LEN) | CHECKSUM(1)
// The checksum is the XOR of every byte that precedes it.

// SyncByte starts every ANT message
const SyncByte byte = 0xA4

// MaxPayloadSize is the largest channel payload (channel byte + 8 data bytes)
const MaxPayloadSize = 9

// headerSize counts SYNC, LEN and MSG_ID
const headerSize = 3

// MessageID identifies the type of an ANT message
type MessageID byte

const (
	MsgRFEvent              MessageID = 0x01
	MsgANTVersion           MessageID = 0x3E
	MsgChannelResponse      MessageID = 0x40
	MsgUnassignChannel      MessageID = 0x41
	MsgAssignChannel        MessageID = 0x42
	MsgChannelPeriod        MessageID = 0x43
	MsgChannelSearchTimeout MessageID = 0x44
	MsgChannelRfFrequency   MessageID = 0x45
	MsgSetNetworkKey        MessageID = 0x46
	MsgResetSystem          MessageID = 0x4A
	MsgOpenChannel          MessageID = 0x4B
	MsgCloseChannel         MessageID = 0x4C
	MsgRequestMessage       MessageID = 0x4D
	MsgBroadcastData        MessageID = 0x4E
	MsgAcknowledgedData     MessageID = 0x4F
	MsgBurstData            MessageID = 0x50
	MsgChannelID            MessageID = 0x51
	MsgCapabilities         MessageID = 0x54
	MsgChannelTransmitPower MessageID = 0x60
	MsgStartUp              MessageID = 0x6F
)

var messageNames = map[MessageID]string{
	MsgRFEvent:              "RFEvent",
	MsgANTVersion:           "ANTVersion",
	MsgChannelResponse:      "ChannelResponse",
	MsgUnassignChannel:      "UnassignChannel",
	MsgAssignChannel:        "AssignChannel",
	MsgChannelPeriod:        "ChannelPeriod",
	MsgChannelSearchTimeout: "ChannelSearchTimeout",
	MsgChannelRfFrequency:   "ChannelRfFrequency",
	MsgSetNetworkKey:        "SetNetworkKey",
	MsgResetSystem:          "ResetSystem",
	MsgOpenChannel:          "OpenChannel",
	MsgCloseChannel:         "CloseChannel",
	MsgRequestMessage:       "RequestMessage",
	MsgBroadcastData:        "BroadcastData",
	MsgAcknowledgedData:     "AcknowledgedData",
	MsgBurstData:            "BurstData",
	MsgChannelID:            "ChannelID",
	MsgCapabilities:         "Capabilities",
	MsgChannelTransmitPower: "ChannelTransmitPower",
	MsgStartUp:              "StartUp",
}

func (id MessageID) String() string {
	if name, ok := messageNames[id]; ok {
		return name
	}
	return "Unknown"
}

// Sentinel values reported by Decompose when a field lies beyond the received bytes
const (
	NoChannel  = -1
	NoPage     = -1
	NoSequence = -1
)

// Decoded holds the parts of a (possibly truncated) ANT message
type Decoded struct {
	Sync             byte
	Length           byte
	ID               MessageID
	Payload          []byte
	Checksum         byte // as received, 0 when missing
	ComputedChecksum byte // XOR of the received header and payload bytes
	Remainder        []byte
	Channel          int
	DataPageNumber   int
	Sequence         int // burst sequence number, NoSequence for other messages
	complete         bool
}

// ChecksumValid reports whether the message was complete and its checksum matches
func (d Decoded) ChecksumValid() bool {
	return d.complete && d.Checksum == d.ComputedChecksum
}

// Compose builds SYNC | LEN | ID | payload | checksum.
// The payload length is not checked; callers keep it within MaxPayloadSize.
func Compose(id MessageID, payload []byte) []byte {
	msg := make([]byte, headerSize+len(payload)+1)
	msg[0] = SyncByte
	msg[1] = byte(len(payload))
	msg[2] = byte(id)
	copy(msg[headerSize:], payload)
	msg[len(msg)-1] = Checksum(msg)
	return msg
}

// Checksum XORs the header and payload bytes of msg, as far as they are present
func Checksum(msg []byte) byte {
	if len(msg) < 2 {
		var x byte
		for _, b := range msg {
			x ^= b
		}
		return x
	}
	end := int(msg[1]) + headerSize
	if end > len(msg) {
		end = len(msg)
	}
	var x byte
	for _, b := range msg[:end] {
		x ^= b
	}
	return x
}

// Decompose splits msg into its parts without ever failing.
// Missing fields keep zero values, Channel and DataPageNumber fall back to NoChannel / NoPage.
// A checksum mismatch is reported through ChecksumValid only.
func Decompose(msg []byte) Decoded {
	d := Decoded{
		Payload:        []byte{},
		Channel:        NoChannel,
		DataPageNumber: NoPage,
		Sequence:       NoSequence,
	}
	if len(msg) > 0 {
		d.Sync = msg[0]
	}
	if len(msg) > 1 {
		d.Length = msg[1]
	}
	if len(msg) > 2 {
		d.ID = MessageID(msg[2])
	}
	length := int(d.Length)
	if len(msg) > headerSize+length {
		d.Payload = append([]byte{}, msg[headerSize:headerSize+length]...)
		d.Checksum = msg[headerSize+length]
		d.complete = true
	}
	if len(msg) > headerSize+length+1 {
		d.Remainder = append([]byte{}, msg[headerSize+length+1:]...)
	}
	d.ComputedChecksum = Checksum(msg)

	if len(d.Payload) >= 1 {
		d.Channel = int(d.Payload[0])
	}
	if len(d.Payload) >= 2 {
		d.DataPageNumber = int(d.Payload[1])
	}

	// burst data carries the sequence number in the top 3 bits of the channel byte
	if d.ID == MsgBurstData && d.Channel != NoChannel {
		d.Sequence = (d.Channel & 0xE0) >> 5
		d.Channel &= 0x1F
	}
	return d
}

// SplitMessages cuts a read buffer into complete messages.
// Bytes before a sync byte and a trailing partial message are dropped.
func SplitMessages(buf []byte) [][]byte {
	var out [][]byte
	for len(buf) > 0 {
		if buf[0] != SyncByte {
			buf = buf[1:]
			continue
		}
		if len(buf) < headerSize {
			break
		}
		total := headerSize + int(buf[1]) + 1
		if total > len(buf) {
			break
		}
		out = append(out, append([]byte{}, buf[:total]...))
		buf = buf[total:]
	}
	return out
}
