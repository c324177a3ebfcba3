// Package antdev implements the ANT+ device profiles. Every profile owns one
// channel and keeps all of its state (interleave, accumulated counters,
// pairing, page 71 status) on its own instance behind its own mutex.
package antdev

import (
	"encoding/binary"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/ant"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/antpage"
)

// Telemetry is one snapshot of the trainer, shared by all profiles on a tick
type Telemetry struct {
	Cadence        int // rpm
	PowerWatts     int
	SpeedKmh       float64
	HeartRate      int // bpm
	PedalEchoCount int
}

// Interface is what the dongle manager, the bridge and the session need from a profile
type Interface interface {
	Config() ChannelConfig
	Channel() byte
	SetChannel(channel byte)
	// Initialize zeroes the interleave and all profile counters
	Initialize()
	// Broadcast returns the next composed message, nil if the profile never transmits on its own
	Broadcast(t Telemetry) []byte
	// HandleReceived processes one message received on the profile's channel and
	// returns the composed messages to send back, if any
	HandleReceived(channel int, id ant.MessageID, page int, payload []byte) ([][]byte, error)
	Paired() bool
}

var (
	_ Interface = (*FitnessEquipment)(nil)
	_ Interface = (*HeartRateMonitor)(nil)
	_ Interface = (*Power)(nil)
	_ Interface = (*SpeedCadence)(nil)
	_ Interface = (*Control)(nil)
	_ Interface = (*Generic)(nil)
)

// Dispatch feeds a decoded message to an interface
func Dispatch(iface Interface, d ant.Decoded) ([][]byte, error) {
	return iface.HandleReceived(d.Channel, d.ID, d.DataPageNumber, d.Payload)
}

const deviceTypeMask = 0x7F

type pageHandler func(payload []byte) ([][]byte, error)

// commandStatus is the content of page 71, answered on request
type commandStatus struct {
	lastCommand byte
	sequence    byte
	status      byte
	data        [4]byte
}

func initialCommandStatus() commandStatus {
	return commandStatus{
		lastCommand: 0xFF,
		sequence:    0xFF,
		status:      antpage.StatusUninitialized,
		data:        [4]byte{0xFF, 0xFF, 0xFF, 0xFF},
	}
}

// base holds what every profile shares. Handlers and schedules run with mu held.
type base struct {
	mu     sync.Mutex
	logger *log.Logger
	name   string
	cfg    ChannelConfig

	channel    byte
	modulus    int // 0 disables interleave cycling
	interleave int
	paired     bool
	pairedWith ant.ChannelIDReply
	status     commandStatus

	broadcastPages map[byte]pageHandler
	ackPages       map[byte]pageHandler
	// pages that can be asked for with page 70
	requestable map[byte]func() []byte

	now func() time.Time
}

func newBase(logger *log.Logger, cfg ChannelConfig, modulus int) *base {
	if logger == nil {
		panic(fmt.Sprintf("%s: logger cannot be nil", cfg.Name))
	}
	b := &base{
		logger:         logger,
		name:           cfg.Name,
		cfg:            cfg,
		modulus:        modulus,
		status:         initialCommandStatus(),
		broadcastPages: make(map[byte]pageHandler),
		ackPages:       make(map[byte]pageHandler),
		requestable:    make(map[byte]func() []byte),
		now:            time.Now,
	}
	b.requestable[antpage.NumberCommandStatus] = b.commandStatusPage
	return b
}

// Config returns the radio configuration the profile was created with
func (b *base) Config() ChannelConfig {
	return b.cfg
}

// Channel is the dongle channel assigned to the profile
func (b *base) Channel() byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.channel
}

func (b *base) SetChannel(channel byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channel = channel
}

// Paired reports whether a slave channel found its master
func (b *base) Paired() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paired
}

func (b *base) resetInterleave() {
	b.interleave = 0
}

func (b *base) advance() {
	if b.modulus > 0 {
		b.interleave = (b.interleave + 1) % b.modulus
	}
}

// handlePage registers h for page number on both broadcast and acknowledged data
func (b *base) handlePage(number byte, h pageHandler) {
	b.broadcastPages[number] = h
	b.ackPages[number] = h
}

// HandleReceived dispatches a message received on the profile's channel to
// the handler registered for its message type and data page
func (b *base) HandleReceived(channel int, id ant.MessageID, page int, payload []byte) ([][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if channel != int(b.channel) {
		return nil, &WrongChannelError{Received: channel, Owned: b.channel}
	}

	switch id {
	case ant.MsgChannelID:
		b.handleChannelID(payload)
		return nil, nil
	case ant.MsgChannelResponse:
		b.handleChannelResponse(payload)
		return nil, nil
	case ant.MsgBroadcastData:
		return b.dispatchPage(b.broadcastPages, page, payload)
	case ant.MsgAcknowledgedData:
		return b.dispatchPage(b.ackPages, page, payload)
	case ant.MsgBurstData:
		return nil, nil
	default:
		return nil, &UnknownMessageIDError{ID: id}
	}
}

func (b *base) dispatchPage(table map[byte]pageHandler, page int, payload []byte) ([][]byte, error) {
	if page < 0 || page > 0xFF {
		return nil, &UnknownDataPageError{Page: page}
	}
	h, ok := table[byte(page)]
	if !ok {
		return nil, &UnknownDataPageError{Page: page}
	}
	return h(payload)
}

func (b *base) handleChannelID(payload []byte) {
	if len(payload) < 5 {
		return
	}
	deviceNumber := binary.LittleEndian.Uint16(payload[1:3])
	if deviceNumber == 0 {
		return
	}
	// bit 7 of the device type is the pairing request bit
	if payload[0] == b.channel && payload[3]&deviceTypeMask == b.cfg.DeviceTypeID&deviceTypeMask {
		if !b.paired {
			b.logger.Printf("%s: paired with device %d on channel %d", b.name, deviceNumber, b.channel)
		}
		b.paired = true
		b.pairedWith = ant.ChannelIDReply{
			Channel:          payload[0],
			DeviceNumber:     deviceNumber,
			DeviceTypeID:     payload[3] & deviceTypeMask,
			TransmissionType: payload[4],
		}
	}
}

// PairedWith returns the channel id of the paired master
func (b *base) PairedWith() (ant.ChannelIDReply, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pairedWith, b.paired
}

func (b *base) handleChannelResponse(payload []byte) {
	if len(payload) < 3 {
		return
	}
	if payload[1] == byte(ant.MsgRFEvent) {
		if payload[2] == ant.EventRxSearchTimeout || payload[2] == ant.EventChannelClosed {
			b.paired = false
		}
		return
	}
	b.logger.Printf("%s: channel response for %s, code %d", b.name, ant.MessageID(payload[1]), payload[2])
}

// recordCommand refreshes the page 71 shadow for an inbound command page
func (b *base) recordCommand(page byte, payload []byte) {
	b.status.lastCommand = page
	b.status.sequence++
	b.status.status = antpage.StatusPass
	if len(payload) >= antpage.Size {
		copy(b.status.data[:], payload[5:9])
	}
}

func (b *base) commandStatusPage() []byte {
	return antpage.CommandStatus{
		Channel:             b.channel,
		LastReceivedCommand: b.status.lastCommand,
		Sequence:            b.status.sequence,
		Status:              b.status.status,
		Data:                b.status.data,
	}.Encode()
}

// handleRequest answers page 70 with NrTimes copies of the requested page
func (b *base) handleRequest(payload []byte) ([][]byte, error) {
	req, err := antpage.DecodeRequest(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: page 70: %w", b.name, err)
	}
	if req.CommandType != antpage.CommandTypeDataPage {
		return nil, &UnsupportedPageError{Page: int(req.RequestedPageNumber)}
	}
	encode, ok := b.requestable[req.RequestedPageNumber]
	if !ok {
		return nil, &UnsupportedPageError{Page: int(req.RequestedPageNumber)}
	}

	id := ant.MsgBroadcastData
	if req.Acknowledged() {
		id = ant.MsgAcknowledgedData
	}
	page := encode()
	replies := make([][]byte, 0, req.NrTimes())
	for i := 0; i < req.NrTimes(); i++ {
		replies = append(replies, ant.Compose(id, page))
	}
	return replies, nil
}

func (b *base) manufacturerInfo(id ProductIdentity) []byte {
	return antpage.ManufacturerInfo{
		Channel:        b.channel,
		Reserved1:      0xFF,
		Reserved2:      0xFF,
		HWRevision:     id.HWRevision,
		ManufacturerID: id.ManufacturerID,
		ModelNumber:    id.ModelNumber,
	}.Encode()
}

func (b *base) productInfo(id ProductIdentity) []byte {
	return antpage.ProductInfo{
		Channel:        b.channel,
		Reserved:       0xFF,
		SWRevisionSupp: id.SWRevisionSupp,
		SWRevisionMain: id.SWRevisionMain,
		SerialNumber:   id.SerialNumber,
	}.Encode()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
