package dongle

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/ant"
)

var ErrEmulatorClosed = errors.New("emulator closed")

// Emulator is a Transport that answers like an ANT dongle: StartUp after a
// reset, capabilities and version on request, RESPONSE_NO_ERROR for every
// configuration command. It lets the bridge run without hardware and is the
// dongle used in tests.
type Emulator struct {
	mu           sync.Mutex
	manufacturer string
	maxChannels  byte
	maxNetworks  byte
	version      string
	readTimeout  time.Duration

	pending  [][]byte
	written  [][]byte
	notify   chan struct{}
	closed   bool
	silent   bool
	rejects  map[ant.MessageID]byte
	channels map[byte][5]byte // channel id payload per channel
}

func NewEmulator(manufacturer string, maxChannels byte, readTimeout time.Duration) *Emulator {
	return &Emulator{
		manufacturer: manufacturer,
		maxChannels:  maxChannels,
		maxNetworks:  8,
		version:      "EMU1.00",
		readTimeout:  readTimeout,
		notify:       make(chan struct{}, 1),
		rejects:      make(map[ant.MessageID]byte),
		channels:     make(map[byte][5]byte),
	}
}

// Silence makes the emulator swallow everything, like a USB device that is not an ANT stick
func (e *Emulator) Silence() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.silent = true
}

// Reject makes the emulator answer id with code instead of RESPONSE_NO_ERROR
func (e *Emulator) Reject(id ant.MessageID, code byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rejects[id] = code
}

// Inject queues a message as if it was received over the air
func (e *Emulator) Inject(msg []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue(msg)
}

// Written returns every message written so far
func (e *Emulator) Written() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]byte, len(e.written))
	copy(out, e.written)
	return out
}

func (e *Emulator) Manufacturer() string {
	return e.manufacturer
}

func (e *Emulator) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Emulator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *Emulator) Write(_ byte, b []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, ErrEmulatorClosed
	}
	e.written = append(e.written, append([]byte{}, b...))
	if !e.silent {
		for _, msg := range ant.SplitMessages(b) {
			e.answer(ant.Decompose(msg))
		}
	}
	return len(b), nil
}

// Read returns as many queued messages as fit in n bytes, or nothing after the read timeout
func (e *Emulator) Read(_ byte, n int) ([]byte, error) {
	deadline := time.After(e.readTimeout)
	for {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return nil, ErrEmulatorClosed
		}
		if len(e.pending) > 0 {
			var out []byte
			for len(e.pending) > 0 && len(out)+len(e.pending[0]) <= n {
				out = append(out, e.pending[0]...)
				e.pending = e.pending[1:]
			}
			if len(e.pending) > 0 {
				e.signal()
			}
			e.mu.Unlock()
			return out, nil
		}
		e.mu.Unlock()

		select {
		case <-e.notify:
		case <-deadline:
			return []byte{}, nil
		}
	}
}

func (e *Emulator) queue(msg []byte) {
	e.pending = append(e.pending, msg)
	e.signal()
}

func (e *Emulator) signal() {
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

func (e *Emulator) respond(channel byte, id ant.MessageID) {
	e.queue(ant.Compose(ant.MsgChannelResponse, []byte{channel, byte(id), e.rejects[id]}))
}

func (e *Emulator) answer(d ant.Decoded) {
	if len(d.Payload) == 0 {
		return
	}
	channel := d.Payload[0]

	switch d.ID {
	case ant.MsgResetSystem:
		e.channels = make(map[byte][5]byte)
		e.queue(ant.Compose(ant.MsgStartUp, []byte{0x20}))
	case ant.MsgRequestMessage:
		if len(d.Payload) < 2 {
			return
		}
		switch ant.MessageID(d.Payload[1]) {
		case ant.MsgCapabilities:
			e.queue(ant.Compose(ant.MsgCapabilities, []byte{e.maxChannels, e.maxNetworks, 0, 0, 0, 0}))
		case ant.MsgANTVersion:
			e.queue(ant.Compose(ant.MsgANTVersion, append([]byte(e.version), 0)))
		case ant.MsgChannelID:
			id := e.channels[channel]
			e.queue(ant.Compose(ant.MsgChannelID, id[:]))
		}
	case ant.MsgChannelID:
		var id [5]byte
		copy(id[:], d.Payload)
		e.channels[channel] = id
		e.respond(channel, d.ID)
	case ant.MsgAssignChannel, ant.MsgUnassignChannel, ant.MsgChannelPeriod,
		ant.MsgChannelSearchTimeout, ant.MsgChannelRfFrequency, ant.MsgSetNetworkKey,
		ant.MsgOpenChannel, ant.MsgCloseChannel, ant.MsgChannelTransmitPower:
		e.respond(channel, d.ID)
	case ant.MsgAcknowledgedData:
		e.queue(ant.Compose(ant.MsgChannelResponse, []byte{channel, byte(ant.MsgRFEvent), ant.EventTransferTxDone}))
	}
}

// Pair makes channel report the given master on a channel id request, as a
// dongle does once a wildcard slave channel found one
func (e *Emulator) Pair(channel byte, deviceNumber uint16, deviceTypeID, transmissionType byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := [5]byte{channel, 0, 0, deviceTypeID, transmissionType}
	binary.LittleEndian.PutUint16(id[1:3], deviceNumber)
	e.channels[channel] = id
}

// DeviceNumber of the channel id set on channel, 0 when none
func (e *Emulator) DeviceNumber(channel byte) uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.channels[channel]
	return binary.LittleEndian.Uint16(id[1:3])
}

// EmulatorFinder hands out the emulators registered per product id
type EmulatorFinder struct {
	Products map[uint16][]*Emulator
}

func (f *EmulatorFinder) Find(productID uint16) ([]Transport, error) {
	var out []Transport
	for _, e := range f.Products[productID] {
		out = append(out, e)
	}
	return out, nil
}
