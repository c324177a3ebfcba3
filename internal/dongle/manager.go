// Package dongle owns the USB ANT dongle. All configuration, reset and
// release calls go through one Manager which serializes them.
package dongle

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/ant"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/antdev"
)

// USB endpoints of an ANT stick
const (
	EndpointOut byte = 0x01
	EndpointIn  byte = 0x81
)

const readSize = 64

// Product ids of known ANT sticks
const (
	ProductSuunto uint16 = 4104
	ProductGarmin uint16 = 4105
	ProductOlder  uint16 = 4100
)

// Transport is the byte level USB access to one dongle.
// Read returns an empty slice when nothing arrived before the transport's timeout.
type Transport interface {
	Write(endpoint byte, b []byte) (int, error)
	Read(endpoint byte, n int) ([]byte, error)
	Manufacturer() string
	Close() error
}

// Finder lists the dongles with a given product id
type Finder interface {
	Find(productID uint16) ([]Transport, error)
}

type Options struct {
	ProductIDs []uint16
	// wait between ResetSystem and the first read
	ResetDelay time.Duration
	// extra attempts to read the StartUp message after a reset
	StartupRetries int
	// reads spent waiting for the answer to one command
	ReplyReads int
}

func DefaultOptions() Options {
	return Options{
		ProductIDs:     []uint16{ProductSuunto, ProductGarmin, ProductOlder},
		ResetDelay:     500 * time.Millisecond,
		StartupRetries: 2,
		ReplyReads:     10,
	}
}

type Manager struct {
	logger *log.Logger
	finder Finder
	opts   Options

	// serializes Open, ConfigureChannel, ReleaseChannel and Release
	mu           sync.Mutex
	slots        []antdev.Interface
	networks     map[byte]bool
	capabilities ant.CapabilitiesReply
	version      string
	lastReset    ant.ResetType
	noReset      bool

	tmu       sync.RWMutex
	transport Transport

	writeMu sync.Mutex
	readMu  sync.Mutex
	// messages read while waiting for a reply, handed out by ReadMessages
	backlog [][]byte
}

func NewManager(logger *log.Logger, finder Finder, opts Options) *Manager {
	if logger == nil {
		panic("Dongle: logger cannot be nil")
	}
	if len(opts.ProductIDs) == 0 {
		opts.ProductIDs = DefaultOptions().ProductIDs
	}
	if opts.ReplyReads <= 0 {
		opts.ReplyReads = DefaultOptions().ReplyReads
	}
	return &Manager{
		logger:   logger,
		finder:   finder,
		opts:     opts,
		networks: make(map[byte]bool),
	}
}

// Open tries the configured product ids and binds the first dongle that
// answers like an ANT device, then reads its capabilities and version.
// Returns an error wrapping ErrNotFound when nothing answers.
func (m *Manager) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.currentTransport() != nil {
		return nil
	}

	for _, pid := range m.opts.ProductIDs {
		candidates, err := m.finder.Find(pid)
		if err != nil {
			m.logger.Printf("Dongle: looking for product %d: %v", pid, err)
			continue
		}
		for _, t := range candidates {
			if m.bind(t) {
				m.logger.Printf("Dongle: using product %d from %q, %d channels, %d networks, version %s",
					pid, t.Manufacturer(), m.capabilities.MaxChannels, m.capabilities.MaxNetworks, m.version)
				return nil
			}
			_ = t.Close()
		}
	}
	return fmt.Errorf("dongle: tried products %v: %w", m.opts.ProductIDs, ErrNotFound)
}

// bind makes t the active transport if it answers like an ANT dongle
func (m *Manager) bind(t Transport) bool {
	m.setTransport(t)
	m.noReset = strings.Contains(strings.ToUpper(t.Manufacturer()), "CYCPLUS")

	if m.noReset {
		m.logger.Printf("Dongle: %q does not handle resets, skipping", t.Manufacturer())
	} else if err := m.resetLocked(); err != nil {
		m.logger.Printf("Dongle: %q is not an ANT dongle: %v", t.Manufacturer(), err)
		m.setTransport(nil)
		return false
	}

	if err := m.calibrateLocked(); err != nil {
		m.logger.Printf("Dongle: calibration of %q failed: %v", t.Manufacturer(), err)
		m.setTransport(nil)
		return false
	}
	return true
}

// resetLocked resets the dongle and waits for its StartUp message
func (m *Manager) resetLocked() error {
	if err := m.write(ant.ResetSystem()); err != nil {
		return err
	}
	if m.opts.ResetDelay > 0 {
		time.Sleep(m.opts.ResetDelay)
	}

	for attempt := 0; attempt <= m.opts.StartupRetries; attempt++ {
		msgs, err := m.readTransport()
		if err != nil {
			return err
		}
		for _, msg := range msgs {
			d := ant.Decompose(msg)
			if d.ID != ant.MsgStartUp {
				continue
			}
			reset, err := ant.ParseStartUp(d)
			if err != nil {
				return err
			}
			m.lastReset = reset
			return nil
		}
	}
	return fmt.Errorf("%w to ResetSystem", ErrNoReply)
}

// calibrateLocked asks for the capabilities and the firmware version
func (m *Manager) calibrateLocked() error {
	d, err := m.request(0, ant.MsgCapabilities)
	if err != nil {
		return err
	}
	caps, err := ant.ParseCapabilities(d)
	if err != nil {
		return err
	}
	m.capabilities = caps
	m.slots = make([]antdev.Interface, caps.MaxChannels)
	m.networks = make(map[byte]bool)

	d, err = m.request(0, ant.MsgANTVersion)
	if err != nil {
		return err
	}
	m.version, err = ant.ParseVersion(d)
	return err
}

func (m *Manager) request(channel byte, id ant.MessageID) (ant.Decoded, error) {
	if err := m.write(ant.RequestMessage(channel, id)); err != nil {
		return ant.Decoded{}, err
	}
	return m.await(func(d ant.Decoded) bool { return d.ID == id }, id.String())
}

// await reads until match accepts a message. Everything else goes to the backlog.
func (m *Manager) await(match func(ant.Decoded) bool, what string) (ant.Decoded, error) {
	for i := 0; i < m.opts.ReplyReads; i++ {
		msgs, err := m.readTransport()
		if err != nil {
			return ant.Decoded{}, err
		}
		for j, msg := range msgs {
			d := ant.Decompose(msg)
			if match(d) {
				m.pushBacklog(msgs[j+1:])
				return d, nil
			}
			m.pushBacklog(msgs[j : j+1])
		}
	}
	return ant.Decoded{}, fmt.Errorf("%w to %s", ErrNoReply, what)
}

// command sends msg and waits for the ChannelResponse acknowledging it
func (m *Manager) command(channel byte, msg []byte) error {
	id := ant.MessageID(msg[2])
	if err := m.write(msg); err != nil {
		return err
	}
	d, err := m.await(func(d ant.Decoded) bool {
		if d.ID != ant.MsgChannelResponse || len(d.Payload) < 3 {
			return false
		}
		return d.Payload[0] == channel && ant.MessageID(d.Payload[1]) == id
	}, id.String())
	if err != nil {
		return err
	}
	resp, err := ant.ParseChannelResponse(d)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return &ChannelResponseError{Channel: channel, Command: id, Code: resp.Code}
	}
	return nil
}

// ConfigureChannel gives iface the next free channel, programs it and opens it
func (m *Manager) ConfigureChannel(iface antdev.Interface) (byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.currentTransport() == nil {
		return 0, ErrNoDongle
	}

	slot := -1
	for i, used := range m.slots {
		if used == nil {
			slot = i
			break
		}
	}
	if slot < 0 {
		return 0, fmt.Errorf("%s: %w (%d in use)", iface.Config().Name, ErrNoMoreChannels, len(m.slots))
	}
	ch := byte(slot)
	cfg := iface.Config()

	if !m.networks[cfg.Network] {
		if err := m.command(cfg.Network, ant.SetNetworkKey(cfg.Network, cfg.NetworkKey)); err != nil {
			return 0, fmt.Errorf("%s: network key: %w", cfg.Name, err)
		}
		m.networks[cfg.Network] = true
	}

	steps := [][]byte{
		ant.AssignChannel(ch, cfg.ChannelType, cfg.Network),
		ant.SetChannelID(ch, cfg.DeviceNumber, cfg.DeviceTypeID, cfg.TransmissionType),
		ant.ChannelPeriod(ch, cfg.Period),
		ant.ChannelSearchTimeout(ch, cfg.SearchTimeout),
		ant.ChannelRfFrequency(ch, cfg.RfFrequency),
		ant.ChannelTransmitPower(ch, cfg.TransmitPower),
		ant.OpenChannel(ch),
	}
	for _, step := range steps {
		if err := m.command(ch, step); err != nil {
			// an assigned but unopened channel would otherwise stay allocated in the dongle
			if ant.MessageID(step[2]) != ant.MsgAssignChannel {
				_ = m.command(ch, ant.UnassignChannel(ch))
			}
			return 0, fmt.Errorf("%s: %w", cfg.Name, err)
		}
	}

	iface.SetChannel(ch)
	iface.Initialize()
	m.slots[slot] = iface
	m.logger.Printf("Dongle: %s configured on channel %d (device %d, type %d)", cfg.Name, ch, cfg.DeviceNumber, cfg.DeviceTypeID)
	return ch, nil
}

// ReleaseChannel closes and unassigns a channel. The slot is freed even when the dongle complains.
func (m *Manager) ReleaseChannel(channel byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.currentTransport() == nil {
		return ErrNoDongle
	}
	if int(channel) >= len(m.slots) || m.slots[channel] == nil {
		return nil
	}
	name := m.slots[channel].Config().Name
	m.slots[channel] = nil

	err := m.command(channel, ant.CloseChannel(channel))
	if uerr := m.command(channel, ant.UnassignChannel(channel)); err == nil {
		err = uerr
	}
	if err != nil {
		return fmt.Errorf("%s: release channel %d: %w", name, channel, err)
	}
	m.logger.Printf("Dongle: %s released channel %d", name, channel)
	return nil
}

// Release resets the dongle, when allowed, and then frees the USB resources
func (m *Manager) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.currentTransport()
	if t == nil {
		return nil
	}
	var errs []error
	if err := m.resetIfAllowed(); err != nil {
		errs = append(errs, err)
	}

	m.writeMu.Lock()
	m.readMu.Lock()
	m.setTransport(nil)
	m.backlog = nil
	m.readMu.Unlock()
	m.writeMu.Unlock()

	if err := t.Close(); err != nil {
		errs = append(errs, &TransportError{Op: "close", Err: err})
	}
	for i := range m.slots {
		m.slots[i] = nil
	}
	m.networks = make(map[byte]bool)
	m.logger.Printf("Dongle: released")
	return errors.Join(errs...)
}

// resetIfAllowed sends ResetSystem unless the dongle is known to mishandle it.
// The StartUp reply is not awaited.
func (m *Manager) resetIfAllowed() error {
	if m.noReset {
		return nil
	}
	return m.write(ant.ResetSystem())
}

// Write sends one composed message
func (m *Manager) Write(msg []byte) error {
	return m.write(msg)
}

func (m *Manager) write(msg []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	t := m.currentTransport()
	if t == nil {
		return ErrNoDongle
	}
	if _, err := t.Write(EndpointOut, msg); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

// ReadMessages returns the messages read while waiting for replies first,
// then whatever the dongle sends within one transport read.
// Partial messages at the end of a read are dropped.
func (m *Manager) ReadMessages() ([][]byte, error) {
	m.readMu.Lock()
	if len(m.backlog) > 0 {
		out := m.backlog
		m.backlog = nil
		m.readMu.Unlock()
		return out, nil
	}
	m.readMu.Unlock()
	return m.readTransport()
}

func (m *Manager) readTransport() ([][]byte, error) {
	m.readMu.Lock()
	defer m.readMu.Unlock()

	t := m.currentTransport()
	if t == nil {
		return nil, ErrNoDongle
	}
	buf, err := t.Read(EndpointIn, readSize)
	if err != nil {
		return nil, &TransportError{Op: "read", Err: err}
	}
	return ant.SplitMessages(buf), nil
}

func (m *Manager) pushBacklog(msgs [][]byte) {
	if len(msgs) == 0 {
		return
	}
	m.readMu.Lock()
	m.backlog = append(m.backlog, msgs...)
	m.readMu.Unlock()
}

func (m *Manager) currentTransport() Transport {
	m.tmu.RLock()
	defer m.tmu.RUnlock()
	return m.transport
}

func (m *Manager) setTransport(t Transport) {
	m.tmu.Lock()
	m.transport = t
	m.tmu.Unlock()
}

func (m *Manager) Capabilities() ant.CapabilitiesReply {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capabilities
}

func (m *Manager) Version() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version
}

func (m *Manager) LastReset() ant.ResetType {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastReset
}

// ResetAllowed is false for dongles whose firmware mishandles unsolicited resets
func (m *Manager) ResetAllowed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.noReset
}

// Interface returns the profile bound to channel, nil if the slot is free
func (m *Manager) Interface(channel byte) antdev.Interface {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(channel) >= len(m.slots) {
		return nil
	}
	return m.slots[channel]
}
