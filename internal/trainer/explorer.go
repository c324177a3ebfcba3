package trainer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/ant"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/antdev"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/dongle"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/events"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/safe_map"
)

// channelIDRetry spaces the channel id requests of a channel that receives
// data but did not report its master yet
const channelIDRetry = time.Second

// Discovery is a master found on one of the wildcard channels
type Discovery struct {
	Profile string
	ant.ChannelIDReply
}

func (d Discovery) String() string {
	return fmt.Sprintf("%s device %d (type %d, transmission 0x%02X) on channel %d",
		d.Profile, d.DeviceNumber, d.DeviceTypeID, d.TransmissionType, d.Channel)
}

// Explorer opens a slave channel with device number 0 per device type and
// reports every master it pairs with, so the device numbers to configure
// can be found.
type Explorer struct {
	logger  *log.Logger
	manager *dongle.Manager
	slaves  []*antdev.Generic
	routes  *safe_map.SafeMap[byte, *antdev.Generic]
	found   *events.ChannelEvent[Discovery]

	mu          sync.Mutex
	discoveries []Discovery
	requested   map[byte]time.Time
	now         func() time.Time
}

func NewExplorer(logger *log.Logger, manager *dongle.Manager) *Explorer {
	if logger == nil {
		panic("Explorer: logger cannot be nil")
	}
	if manager == nil {
		panic("Explorer: manager cannot be nil")
	}
	return &Explorer{
		logger:    logger,
		manager:   manager,
		routes:    safe_map.NewSafeMap[byte, *antdev.Generic](),
		found:     events.NewChannelEvent[Discovery](false),
		requested: make(map[byte]time.Time),
		now:       time.Now,
	}
}

// AddChannel registers a slave channel to search on. The device number is
// forced to the 0 wildcard.
func (e *Explorer) AddChannel(cfg antdev.ChannelConfig) {
	if cfg.Master {
		panic(fmt.Sprintf("Explorer: %s must be a slave channel", cfg.Name))
	}
	cfg.DeviceNumber = 0
	e.slaves = append(e.slaves, antdev.NewGeneric(e.logger, cfg))
}

// Found notifies every new discovery
func (e *Explorer) Found() *events.ChannelEvent[Discovery] {
	return e.found
}

// Discoveries returns what was found so far, in order
func (e *Explorer) Discoveries() []Discovery {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Discovery(nil), e.discoveries...)
}

// Run configures the channels and searches until ctx is done or the dongle
// fails. The channels are released before returning; the dongle is not.
func (e *Explorer) Run(ctx context.Context) error {
	defer e.releaseChannels()
	for _, g := range e.slaves {
		ch, err := e.manager.ConfigureChannel(g)
		if err != nil {
			return fmt.Errorf("configure %s: %w", g.Config().Name, err)
		}
		e.routes.Store(ch, g)
	}
	e.logger.Printf("Explorer: searching on %d channels", e.routes.Len())

	for ctx.Err() == nil {
		msgs, err := e.manager.ReadMessages()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		for _, msg := range msgs {
			if err := e.handle(msg); err != nil && ctx.Err() == nil {
				return fmt.Errorf("request channel id: %w", err)
			}
		}
	}
	e.logger.Printf("Explorer: stopped with %d devices found", len(e.Discoveries()))
	return nil
}

func (e *Explorer) releaseChannels() {
	var channels []byte
	e.routes.Range(func(ch byte, _ *antdev.Generic) bool {
		channels = append(channels, ch)
		return true
	})
	for _, ch := range channels {
		if err := e.manager.ReleaseChannel(ch); err != nil && !errors.Is(err, dongle.ErrNoDongle) {
			e.logger.Printf("Explorer: %v", err)
		}
		e.routes.Delete(ch)
	}
}

// handle feeds a message to its channel. Data on a channel that is not
// paired yet triggers a channel id request; the reply completes the pairing.
func (e *Explorer) handle(msg []byte) error {
	d := ant.Decompose(msg)
	if !d.ChecksumValid() || d.Channel == ant.NoChannel || d.ID == ant.MsgStartUp {
		return nil
	}
	g, ok := e.routes.Load(byte(d.Channel))
	if !ok {
		return nil
	}
	if _, err := antdev.Dispatch(g, d); err != nil {
		e.logger.Printf("Explorer: %s: %v", g.Config().Name, err)
	}

	switch d.ID {
	case ant.MsgBroadcastData, ant.MsgAcknowledgedData, ant.MsgBurstData:
		if g.Paired() || !e.shouldRequest(byte(d.Channel)) {
			return nil
		}
		return e.manager.Write(ant.RequestMessage(byte(d.Channel), ant.MsgChannelID))
	case ant.MsgChannelID:
		if id, paired := g.PairedWith(); paired {
			e.record(Discovery{Profile: g.Config().Name, ChannelIDReply: id})
		}
	}
	return nil
}

func (e *Explorer) shouldRequest(channel byte) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	if last, ok := e.requested[channel]; ok && now.Sub(last) < channelIDRetry {
		return false
	}
	e.requested[channel] = now
	return true
}

// record keeps each device once, a master found again after a search timeout is not reported twice
func (e *Explorer) record(d Discovery) {
	e.mu.Lock()
	for _, known := range e.discoveries {
		if known.DeviceNumber == d.DeviceNumber && known.DeviceTypeID == d.DeviceTypeID {
			e.mu.Unlock()
			return
		}
	}
	e.discoveries = append(e.discoveries, d)
	e.mu.Unlock()

	e.logger.Printf("Explorer: found %s", d)
	e.found.Notify(d)
}
