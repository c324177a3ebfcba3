package antdev

import (
	"fmt"
	"log"
	"time"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/ant"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/antpage"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/events"
)

const (
	ctrlInterleaveReset  = 129
	ctrlManufacturerSlot = 64
	ctrlProductSlot      = 129
	// ControlLogSize bounds the number of remembered commands
	ControlLogSize = 32
)

// ControlCommand is a generic control command number (page 73)
type ControlCommand uint16

const (
	CommandMenuUp     ControlCommand = 0
	CommandMenuDown   ControlCommand = 1
	CommandMenuSelect ControlCommand = 2
	CommandMenuBack   ControlCommand = 3
	CommandHome       ControlCommand = 4
	CommandStart      ControlCommand = 32
	CommandStop       ControlCommand = 33
	CommandReset      ControlCommand = 34
	CommandLength     ControlCommand = 35
	CommandLap        ControlCommand = 36
	CommandNoAction   ControlCommand = 65535
)

var commandNames = map[ControlCommand]string{
	CommandMenuUp:     "MenuUp",
	CommandMenuDown:   "MenuDown",
	CommandMenuSelect: "MenuSelect",
	CommandMenuBack:   "MenuBack",
	CommandHome:       "Home",
	CommandStart:      "Start",
	CommandStop:       "Stop",
	CommandReset:      "Reset",
	CommandLength:     "Length",
	CommandLap:        "Lap",
	CommandNoAction:   "NoAction",
}

func (c ControlCommand) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(%d)", uint16(c))
}

// ControlEntry is one received generic command
type ControlEntry struct {
	At             time.Time
	ManufacturerID uint16
	SerialNumber   uint16
	Sequence       byte
	Command        ControlCommand
}

// Control is the ANT+ controls profile, accepting generic commands from remotes
type Control struct {
	*base
	commandLog []ControlEntry
	// received under the lock, notified once it is released
	pending  []ControlEntry
	commands *events.CallbackEvent[ControlEntry]
}

// NewControl returns a controls profile answering generic commands from remotes
func NewControl(logger *log.Logger, cfg ChannelConfig) *Control {
	c := &Control{
		base:     newBase(logger, cfg, ctrlInterleaveReset+1),
		commands: events.NewCallbackEvent[ControlEntry](false),
	}
	c.handlePage(antpage.NumberGenericCommand, c.handleGenericCommand)
	c.handlePage(antpage.NumberRequest, c.handleRequest)
	c.requestable[antpage.NumberManufacturerInfo] = func() []byte { return c.manufacturerInfo(identityCTRL) }
	c.requestable[antpage.NumberProductInfo] = func() []byte { return c.productInfo(identityCTRL) }
	return c
}

// Commands notifies every generic command received
func (c *Control) Commands() *events.CallbackEvent[ControlEntry] {
	return c.commands
}

// CommandLog returns the most recent commands, oldest first
func (c *Control) CommandLog() []ControlEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ControlEntry(nil), c.commandLog...)
}

// HandleReceived notifies the command listeners after the profile is
// unlocked, so a listener may call back into the profile.
func (c *Control) HandleReceived(channel int, id ant.MessageID, page int, payload []byte) ([][]byte, error) {
	replies, err := c.base.HandleReceived(channel, id, page, payload)

	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, entry := range pending {
		c.commands.Notify(entry)
	}
	return replies, err
}

// Initialize restarts the broadcast schedule
func (c *Control) Initialize() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetInterleave()
}

// Broadcast returns the next page of the controls schedule: the control
// capabilities page with the manufacturer and product pages interleaved
func (c *Control) Broadcast(Telemetry) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	var page []byte
	switch c.interleave {
	case ctrlManufacturerSlot:
		page = c.manufacturerInfo(identityCTRL)
	case ctrlProductSlot:
		page = c.productInfo(identityCTRL)
	default:
		page = antpage.Control{Channel: c.channel, DeviceCapabilities: antpage.GenericControlOnly}.Encode()
	}
	c.advance()
	return ant.BroadcastData(page)
}

func (c *Control) handleGenericCommand(payload []byte) ([][]byte, error) {
	p, err := antpage.DecodeGenericCommand(payload)
	if err != nil {
		return nil, fmt.Errorf("CTRL: %w", err)
	}
	c.recordCommand(antpage.NumberGenericCommand, payload)

	entry := ControlEntry{
		At:             c.now(),
		ManufacturerID: p.ManufacturerID,
		SerialNumber:   p.SlaveSerial,
		Sequence:       p.Sequence,
		Command:        ControlCommand(p.Command),
	}
	c.commandLog = append(c.commandLog, entry)
	if len(c.commandLog) > ControlLogSize {
		c.commandLog = c.commandLog[len(c.commandLog)-ControlLogSize:]
	}
	c.logger.Printf("CTRL: command %s from manufacturer %d serial %d", entry.Command, entry.ManufacturerID, entry.SerialNumber)
	c.pending = append(c.pending, entry)
	return nil, nil
}
