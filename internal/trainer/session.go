// Package trainer runs a bridge session: it opens one channel per profile on
// the dongle, broadcasts the trainer telemetry on every tick, routes what the
// dongle receives to the profile owning the channel and applies the targets
// requested by training applications.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/ant"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/antdev"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/bt"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/dongle"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/events"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/go_func_utils"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/safe_map"
)

const eventBuffer = 16

// TelemetrySource is the trainer being bridged
type TelemetrySource interface {
	Telemetry() antdev.Telemetry
}

// TargetSink receives the resistance targets requested over ANT+ or BLE
type TargetSink interface {
	ApplyTarget(t antdev.Target)
}

// HeartRateSink receives the heart rate of a strap paired on a slave HRM channel
type HeartRateSink interface {
	SetHeartRate(bpm int)
}

var (
	ErrAlreadyRunning = errors.New("session already running")
	ErrClosed         = errors.New("session closed")
)

type Session struct {
	logger  *log.Logger
	manager *dongle.Manager
	source  TelemetrySource
	sink    TargetSink
	tick    time.Duration

	profiles   []antdev.Interface
	routes     *safe_map.SafeMap[byte, antdev.Interface]
	targets    []*events.ChannelEvent[antdev.Target]
	heartRates []*events.ChannelEvent[int]
	ble        bt.BTManagerInterface

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

func NewSession(logger *log.Logger, manager *dongle.Manager, source TelemetrySource, sink TargetSink, tick time.Duration) *Session {
	if logger == nil {
		panic("Session: logger cannot be nil")
	}
	if manager == nil || source == nil {
		panic("Session: manager and telemetry source are required")
	}
	return &Session{
		logger:  logger,
		manager: manager,
		source:  source,
		sink:    sink,
		tick:    tick,
		routes:  safe_map.NewSafeMap[byte, antdev.Interface](),
	}
}

// AddProfile registers a profile to get a channel on Start
func (s *Session) AddProfile(iface antdev.Interface) {
	s.profiles = append(s.profiles, iface)
}

// AddTargets forwards every target published on ev to the sink
func (s *Session) AddTargets(ev *events.ChannelEvent[antdev.Target]) {
	s.targets = append(s.targets, ev)
}

// AddHeartRates forwards every heart rate published on ev to the telemetry
// source, when it accepts one
func (s *Session) AddHeartRates(ev *events.ChannelEvent[int]) {
	s.heartRates = append(s.heartRates, ev)
}

// SetBLE enables the Indoor Bike Data notifications
func (s *Session) SetBLE(ble bt.BTManagerInterface) {
	s.ble = ble
}

// Start configures a channel for every profile. On failure the channels
// already configured are released again.
func (s *Session) Start() error {
	for _, p := range s.profiles {
		ch, err := s.manager.ConfigureChannel(p)
		if err != nil {
			s.releaseChannels()
			return fmt.Errorf("configure %s: %w", p.Config().Name, err)
		}
		s.routes.Store(ch, p)
	}
	s.logger.Printf("Session: started with %d channels", s.routes.Len())
	return nil
}

// Run drives the session until ctx is done, Close is called or the dongle fails.
// Profile errors are logged and never end the session.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.cancel != nil {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	s.mu.Unlock()
	defer close(done)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(go_func_utils.Safe(s.logger, func() error { return s.broadcastLoop(gctx) }))
	g.Go(go_func_utils.Safe(s.logger, func() error { return s.readLoop(gctx) }))
	g.Go(go_func_utils.Safe(s.logger, func() error { return s.eventLoop(gctx) }))
	if s.ble != nil {
		g.Go(go_func_utils.Safe(s.logger, func() error { return s.bleLoop(gctx) }))
	}

	err := g.Wait()
	s.logger.Printf("Session: stopped: %v", err)
	return err
}

// Close stops the loops, waits for them and releases the dongle
func (s *Session) Close() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.closed = true
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	s.releaseChannels()
	return s.manager.Release()
}

func (s *Session) releaseChannels() {
	var channels []byte
	s.routes.Range(func(ch byte, _ antdev.Interface) bool {
		channels = append(channels, ch)
		return true
	})
	for _, ch := range channels {
		if err := s.manager.ReleaseChannel(ch); err != nil && !errors.Is(err, dongle.ErrNoDongle) {
			s.logger.Printf("Session: %v", err)
		}
		s.routes.Delete(ch)
	}
}

// broadcastLoop takes one telemetry snapshot per tick and writes the next
// message of every profile that transmits on its own
func (s *Session) broadcastLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t := s.source.Telemetry()
			for _, p := range s.profiles {
				msg := p.Broadcast(t)
				if msg == nil {
					continue
				}
				if err := s.manager.Write(msg); err != nil {
					return s.transportFailure(ctx, "broadcast", err)
				}
			}
		}
	}
}

func (s *Session) readLoop(ctx context.Context) error {
	for ctx.Err() == nil {
		msgs, err := s.manager.ReadMessages()
		if err != nil {
			return s.transportFailure(ctx, "read", err)
		}
		for _, msg := range msgs {
			if err := s.dispatch(msg); err != nil {
				return s.transportFailure(ctx, "reply", err)
			}
		}
	}
	return nil
}

// dispatch routes one message to the profile owning its channel and writes
// the replies. Only write errors are returned.
func (s *Session) dispatch(msg []byte) error {
	d := ant.Decompose(msg)
	if !d.ChecksumValid() {
		s.logger.Printf("Session: dropping message with bad checksum % X", msg)
		return nil
	}
	if d.Channel == ant.NoChannel || d.ID == ant.MsgStartUp {
		// the first payload byte of a StartUp is the reset reason
		s.logger.Printf("Session: %s ignored", d.ID)
		return nil
	}
	iface, ok := s.routes.Load(byte(d.Channel))
	if !ok {
		s.logger.Printf("Session: %s on unused channel %d", d.ID, d.Channel)
		return nil
	}

	replies, err := antdev.Dispatch(iface, d)
	if err != nil {
		s.logger.Printf("Session: %s: %v", iface.Config().Name, err)
	}
	for _, reply := range replies {
		if err := s.manager.Write(reply); err != nil {
			return err
		}
	}
	return nil
}

// eventLoop applies targets and strap heart rates as they are published
func (s *Session) eventLoop(ctx context.Context) error {
	targets := make(chan antdev.Target, eventBuffer)
	heartRates := make(chan int, eventBuffer)

	if s.sink != nil {
		for _, ev := range s.targets {
			defer ev.Listen(targets)()
		}
	}
	hrSink, hasHRSink := s.source.(HeartRateSink)
	if hasHRSink {
		for _, ev := range s.heartRates {
			defer ev.Listen(heartRates)()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-targets:
			s.sink.ApplyTarget(t)
		case bpm := <-heartRates:
			hrSink.SetHeartRate(bpm)
		}
	}
}

func (s *Session) bleLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	var lastErr string
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			err := s.ble.NotifyTelemetry(s.source.Telemetry())
			// log each distinct failure once
			if err != nil && err.Error() != lastErr {
				s.logger.Printf("Session: BLE: %v", err)
			}
			lastErr = ""
			if err != nil {
				lastErr = err.Error()
			}
		}
	}
}

// transportFailure ends the session unless it is already stopping
func (s *Session) transportFailure(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
