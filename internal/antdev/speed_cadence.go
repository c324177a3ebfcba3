package antdev

import (
	"log"
	"math"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/ant"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/antpage"
)

// WheelCircumference in meters
const WheelCircumference = 2.096

// SpeedCadence is the combined bike speed and cadence profile. It has no
// interleave, every tick sends the same combined page.
type SpeedCadence struct {
	*base
	previousEcho      int
	cadenceEventTime  float64 // 1/1024 s
	cadenceEventCount int
	speedEventTime    float64 // 1/1024 s
	speedEventCount   int
}

// NewSpeedCadence is a combined speed and cadence sensor
func NewSpeedCadence(logger *log.Logger, cfg ChannelConfig) *SpeedCadence {
	return &SpeedCadence{base: newBase(logger, cfg, 0)}
}

func (s *SpeedCadence) Initialize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetInterleave()
	s.previousEcho = 0
	s.cadenceEventTime = 0
	s.cadenceEventCount = 0
	s.speedEventTime = 0
	s.speedEventCount = 0
}

// Broadcast derives the event values from the pedal echo delta and the
// reported cadence and speed. Without a new pedal echo, or with zero cadence
// or speed, the previous values are repeated unchanged.
func (s *SpeedCadence) Broadcast(t Telemetry) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.PedalEchoCount != s.previousEcho && t.Cadence > 0 && t.SpeedKmh > 0 {
		cycles := t.PedalEchoCount - s.previousEcho
		if cycles < 0 {
			// echo counter wrapped or restarted, count a single cycle
			cycles = 1
		}
		elapsed := float64(cycles) / float64(t.Cadence) * 60
		s.cadenceEventTime += elapsed * 1024
		s.cadenceEventCount += cycles

		wheelCadence := t.SpeedKmh / 3.6 / WheelCircumference
		wheelCycles := math.Round(elapsed * wheelCadence)
		elapsed = wheelCycles / t.SpeedKmh * 3.6 * WheelCircumference
		s.speedEventTime += elapsed * 1024
		s.speedEventCount += int(wheelCycles)
	}

	s.cadenceEventTime = float64(int(s.cadenceEventTime) & 0xFFFF)
	s.cadenceEventCount &= 0xFFFF
	s.speedEventTime = float64(int(s.speedEventTime) & 0xFFFF)
	s.speedEventCount &= 0xFFFF
	s.previousEcho = t.PedalEchoCount

	return ant.BroadcastData(antpage.SpeedCadence{
		Channel:           s.channel,
		CadenceEventTime:  uint16(s.cadenceEventTime),
		CadenceEventCount: uint16(s.cadenceEventCount),
		SpeedEventTime:    uint16(s.speedEventTime),
		SpeedEventCount:   uint16(s.speedEventCount),
	}.Encode())
}
