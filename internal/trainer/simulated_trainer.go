package trainer

import (
	"log"
	"math"
	"sync"
	"time"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/antdev"
)

const (
	gravity         = 9.81
	maxSimPower     = 2000.0
	idlePower       = 120.0
	defaultCadence  = 90
	flatSpeedKmh    = 30.0
	minSimSpeedKmh  = 8.0
	maxSimSpeedKmh  = 50.0
	maxSolverSpeed  = 30.0 // m/s
	solverIteration = 40
)

// SimulatedTrainer generates telemetry that follows the current target, so
// the bridge can be exercised without trainer hardware. In ERG mode it holds
// the target power, in simulation mode it holds a speed that drops with the
// grade and reports the power the grade costs.
type SimulatedTrainer struct {
	logger *log.Logger

	mu        sync.Mutex
	target    antdev.Target
	cadence   int
	heartRate int // from a strap, 0 when none

	pedalEcho      int
	crankRemainder float64
	lastUpdate     time.Time
	now            func() time.Time
}

func NewSimulatedTrainer(logger *log.Logger) *SimulatedTrainer {
	if logger == nil {
		panic("SimulatedTrainer: logger cannot be nil")
	}
	return &SimulatedTrainer{
		logger:  logger,
		target:  antdev.DefaultTarget(),
		cadence: defaultCadence,
		now:     time.Now,
	}
}

// ApplyTarget implements TargetSink
func (s *SimulatedTrainer) ApplyTarget(t antdev.Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = t
	s.logger.Printf("SimulatedTrainer: target %s power=%.0fW grade=%.1f%% resistance=%.1f%%",
		t.Mode, t.PowerWatts, t.GradePercent, t.ResistancePercent)
}

// SetHeartRate implements HeartRateSink
func (s *SimulatedTrainer) SetHeartRate(bpm int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartRate = bpm
}

func (s *SimulatedTrainer) SetCadence(rpm int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cadence = max(rpm, 0)
}

// Telemetry implements TelemetrySource. Every call advances the pedal
// revolution counter by the time elapsed since the previous call.
func (s *SimulatedTrainer) Telemetry() antdev.Telemetry {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !s.lastUpdate.IsZero() && s.cadence > 0 {
		elapsed := max(now.Sub(s.lastUpdate).Seconds(), 0)
		revs := float64(s.cadence)/60*elapsed + s.crankRemainder
		whole := math.Floor(revs)
		s.crankRemainder = revs - whole
		s.pedalEcho += int(whole)
	}
	s.lastUpdate = now

	power, speedKmh := s.operatingPoint()
	if s.cadence == 0 {
		power, speedKmh = 0, 0
	}

	heartRate := s.heartRate
	if heartRate <= 0 {
		heartRate = int(math.Round(math.Min(70+power*0.3, 190)))
	}

	return antdev.Telemetry{
		Cadence:        s.cadence,
		PowerWatts:     int(math.Round(power)),
		SpeedKmh:       speedKmh,
		HeartRate:      heartRate,
		PedalEchoCount: s.pedalEcho,
	}
}

// operatingPoint returns power in W and speed in km/h for the current target
func (s *SimulatedTrainer) operatingPoint() (float64, float64) {
	t := s.target
	switch t.Mode {
	case antdev.ModeTargetPower:
		power := clampFloat(t.PowerWatts, 0, maxSimPower)
		return power, s.speedForPower(power)
	case antdev.ModeSimulation:
		speedKmh := clampFloat(flatSpeedKmh-1.5*t.GradePercent, minSimSpeedKmh, maxSimSpeedKmh)
		return clampFloat(s.powerAt(speedKmh/3.6, t.GradePercent), 0, maxSimPower), speedKmh
	case antdev.ModeBasicResistance:
		power := 50 + 3*clampFloat(t.ResistancePercent, 0, 100)
		return power, s.speedForPower(power)
	default:
		return idlePower, s.speedForPower(idlePower)
	}
}

// powerAt is the power needed to hold speed (m/s) on grade (%)
func (s *SimulatedTrainer) powerAt(speed, grade float64) float64 {
	t := s.target
	mass := t.UserWeightKg + t.BikeWeightKg
	angle := math.Atan(grade / 100)
	rolling := mass * gravity * t.RollingResistance * math.Cos(angle)
	climbing := mass * gravity * math.Sin(angle)
	air := speed + t.WindSpeedKmh/3.6
	drag := 0.5 * t.WindResistance * t.DraftingFactor * air * math.Abs(air)
	return (rolling + climbing + drag) * speed
}

// speedForPower solves powerAt(v, 0) = power on a flat road, in km/h
func (s *SimulatedTrainer) speedForPower(power float64) float64 {
	lo, hi := 0.0, maxSolverSpeed
	for range solverIteration {
		mid := (lo + hi) / 2
		if s.powerAt(mid, 0) < power {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2 * 3.6
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
