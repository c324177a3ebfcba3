package antdev

import (
	"log"
	"time"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/ant"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/antpage"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/events"
)

const hrmInterleaveReset = 256

// HeartRateMonitor broadcasts heart rate as a master, or decodes a strap as a slave
type HeartRateMonitor struct {
	*base
	toggle bool

	beatCount     int
	beatEventTime float64 // s
	lastBeat      time.Time

	// slave side
	received  int
	heartRate *events.ChannelEvent[int]
}

// NewHeartRateMonitor broadcasts when cfg is a master and listens to a strap otherwise
func NewHeartRateMonitor(logger *log.Logger, cfg ChannelConfig) *HeartRateMonitor {
	h := &HeartRateMonitor{
		base:      newBase(logger, cfg, hrmInterleaveReset),
		heartRate: events.NewChannelEvent[int](true),
	}
	if !cfg.Master {
		// pages 0..7 with and without the toggle bit
		for number := byte(0); number < 8; number++ {
			h.handlePage(number, h.handleHeartRatePage)
			h.handlePage(number|antpage.HRMToggleBit, h.handleHeartRatePage)
		}
	}
	return h
}

// Initialize restarts the beat count and the page toggle
func (h *HeartRateMonitor) Initialize() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resetInterleave()
	h.toggle = false
	h.beatCount = 0
	h.beatEventTime = 0
	h.lastBeat = time.Time{}
}

// HeartRate returns the last heart rate received as a slave
func (h *HeartRateMonitor) HeartRate() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.received
}

// HeartRateEvents publishes every heart rate received as a slave
func (h *HeartRateMonitor) HeartRateEvents() *events.ChannelEvent[int] {
	return h.heartRate
}

// Broadcast returns the next heart rate page, nil on a slave channel
func (h *HeartRateMonitor) Broadcast(t Telemetry) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.cfg.Master {
		return nil
	}

	h.beat(t.HeartRate)

	if h.interleave%4 == 0 {
		h.toggle = !h.toggle
	}

	page := antpage.HeartRate{
		Channel:       h.channel,
		Toggle:        h.toggle,
		BeatEventTime: uint16(h.beatEventTime * 1024),
		BeatCount:     byte(h.beatCount),
		HeartRate:     byte(clamp(t.HeartRate, 0, 0xFF)),
	}
	switch slot := h.interleave % 64; {
	case slot <= 55:
		page.Number = antpage.NumberHRMDefault
		page.Specific = [3]byte{0xFF, 0xFF, 0xFF}
	case slot <= 59:
		page.Number = antpage.NumberHRMManufacturer
		page.Specific = [3]byte{byte(identityHRM.ManufacturerID), byte(identityHRM.SerialNumber), byte(identityHRM.SerialNumber >> 8)}
	default:
		page.Number = antpage.NumberHRMProduct
		page.Specific = [3]byte{identityHRM.HWRevision, identityHRM.SWRevisionMain, byte(identityHRM.ModelNumber)}
	}

	h.advance()
	return ant.BroadcastData(page.Encode())
}

// beat advances the beat counters when a full beat interval has passed.
// The event time rolls over at 64 s and the count at 256 beats.
func (h *HeartRateMonitor) beat(heartRate int) {
	if heartRate <= 0 {
		return
	}
	now := h.now()
	interval := 60 / float64(heartRate)
	if now.Sub(h.lastBeat).Seconds() < interval {
		return
	}
	h.beatCount++
	h.beatEventTime += interval
	h.lastBeat = now
	if h.beatEventTime >= 64 || h.beatCount >= 256 {
		h.beatCount = 0
		h.beatEventTime = 0
	}
}

func (h *HeartRateMonitor) handleHeartRatePage(payload []byte) ([][]byte, error) {
	p, err := antpage.DecodeHeartRate(payload)
	if err != nil {
		return nil, err
	}
	if int(p.HeartRate) != h.received {
		h.received = int(p.HeartRate)
		h.heartRate.Notify(h.received)
	}
	return nil, nil
}
