package antdev

import (
	"log"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/ant"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/antpage"
)

// interleave runs 0..121, then restarts at 0
const (
	pwrInterleaveReset  = 121
	pwrBatterySlot      = 61
	pwrManufacturerSlot = 120
	pwrProductSlot      = 121
	pwrMaxPower         = 0x0FFF
)

// Power is the bicycle power (power only) profile
type Power struct {
	*base
	eventCount int
	accPower   int
}

// NewPower is a power-only sensor
func NewPower(logger *log.Logger, cfg ChannelConfig) *Power {
	return &Power{base: newBase(logger, cfg, pwrInterleaveReset+1)}
}

func (p *Power) Initialize() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetInterleave()
	p.eventCount = 0
	p.accPower = 0
}

// Broadcast wraps the next power page for t in a broadcast message
func (p *Power) Broadcast(t Telemetry) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	var page []byte
	switch p.interleave {
	case pwrBatterySlot:
		page = antpage.BatteryStatus{Channel: p.channel}.Encode()
	case pwrManufacturerSlot:
		page = p.manufacturerInfo(identityPWR)
	case pwrProductSlot:
		page = p.productInfo(identityPWR)
	default:
		power := clamp(t.PowerWatts, 0, pwrMaxPower)
		p.eventCount = (p.eventCount + 1) & 0xFF
		p.accPower = (p.accPower + power) & 0xFFFF
		page = antpage.PowerOnly{
			Channel:            p.channel,
			EventCount:         byte(p.eventCount),
			Cadence:            byte(clamp(t.Cadence, 0, 0xFF)),
			AccumulatedPower:   uint16(p.accPower),
			InstantaneousPower: uint16(power),
		}.Encode()
	}
	p.advance()
	return ant.BroadcastData(page)
}
