package antdev

import (
	"fmt"
	"log"
	"math"
	"time"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/ant"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/antpage"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/events"
)

const (
	feInterleaveReset = 256
	feMaxPower        = 4093
	feMaxCadence      = 253
	feMaxResistanceN  = 2000
)

type FEOptions struct {
	// GradeFactor scales every grade received from an application
	GradeFactor float64
	// PowerMode lets a recent target power command win over grade updates
	PowerMode       bool
	PowerModeWindow time.Duration
}

func DefaultFEOptions() FEOptions {
	return FEOptions{GradeFactor: 1.0, PowerMode: true, PowerModeWindow: 30 * time.Second}
}

// FitnessEquipment is the FE-C trainer profile
type FitnessEquipment struct {
	*base
	opts    FEOptions
	targets *events.ChannelEvent[Target]
	target  Target

	// zero until the first page 49 arrives
	lastTargetPower     time.Time
	targetPowerReceived bool

	eventCount  int
	accPower    int
	accTime     float64 // 0.25 s
	distance    float64 // m
	lastGeneral time.Time
}

func NewFitnessEquipment(logger *log.Logger, cfg ChannelConfig, opts FEOptions) *FitnessEquipment {
	if opts.GradeFactor <= 0 {
		opts.GradeFactor = 1.0
	}
	fe := &FitnessEquipment{
		base:    newBase(logger, cfg, feInterleaveReset),
		opts:    opts,
		targets: events.NewChannelEvent[Target](true),
		target:  DefaultTarget(),
	}
	fe.handlePage(antpage.NumberBasicResistance, fe.handleBasicResistance)
	fe.handlePage(antpage.NumberTargetPower, fe.handleTargetPower)
	fe.handlePage(antpage.NumberWindResistance, fe.handleWindResistance)
	fe.handlePage(antpage.NumberTrackResistance, fe.handleTrackResistance)
	fe.handlePage(antpage.NumberUserConfiguration, fe.handleUserConfiguration)
	// page 70 is answered but does not count as a command for page 71
	fe.handlePage(antpage.NumberRequest, fe.handleRequest)
	fe.handlePage(antpage.NumberCompliance, func([]byte) ([][]byte, error) { return nil, nil })

	fe.requestable[antpage.NumberFECapabilities] = fe.capabilitiesPage
	fe.requestable[antpage.NumberManufacturerInfo] = func() []byte { return fe.manufacturerInfo(identityFE) }
	fe.requestable[antpage.NumberProductInfo] = func() []byte { return fe.productInfo(identityFE) }
	fe.requestable[antpage.NumberBatteryStatus] = func() []byte { return antpage.BatteryStatus{Channel: fe.channel}.Encode() }

	fe.lastGeneral = fe.now()
	return fe
}

// Targets publishes every change of the requested target
func (fe *FitnessEquipment) Targets() *events.ChannelEvent[Target] {
	return fe.targets
}

func (fe *FitnessEquipment) Target() Target {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.target
}

// Initialize restarts the accumulated counters and the page rotation
func (fe *FitnessEquipment) Initialize() {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	fe.resetInterleave()
	fe.eventCount = 0
	fe.accPower = 0
	fe.accTime = 0
	fe.distance = 0
	fe.lastGeneral = fe.now()
}

// Broadcast returns the broadcast message carrying the next FE page for t
func (fe *FitnessEquipment) Broadcast(t Telemetry) []byte {
	fe.mu.Lock()
	defer fe.mu.Unlock()

	var page []byte
	switch slot := fe.interleave % 64; {
	case slot == 30 || slot == 31:
		page = fe.manufacturerInfo(identityFE)
	case slot == 62 || slot == 63:
		page = fe.productInfo(identityFE)
	case fe.interleave%3 == 0:
		page = fe.generalFE(t)
	default:
		page = fe.specificTrainer(t)
	}
	fe.advance()
	return ant.BroadcastData(page)
}

func (fe *FitnessEquipment) generalFE(t Telemetry) []byte {
	now := fe.now()
	elapsed := now.Sub(fe.lastGeneral).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	fe.lastGeneral = now

	speedMs := math.Max(0, t.SpeedKmh/3.6)
	fe.accTime = math.Mod(fe.accTime+elapsed*4, 256)
	fe.distance = math.Mod(fe.distance+elapsed*speedMs, 256)

	return antpage.GeneralFE{
		Channel:     fe.channel,
		ElapsedTime: byte(fe.accTime),
		Distance:    byte(fe.distance),
		Speed:       uint16(clamp(int(speedMs*1000), 0, 0xFFFF)),
		HeartRate:   byte(clamp(t.HeartRate, 0, 0xFF)),
	}.Encode()
}

func (fe *FitnessEquipment) specificTrainer(t Telemetry) []byte {
	power := clamp(t.PowerWatts, 0, feMaxPower)
	fe.eventCount = (fe.eventCount + 1) & 0xFF
	fe.accPower = (fe.accPower + power) & 0xFFFF

	return antpage.SpecificTrainer{
		Channel:            fe.channel,
		EventCount:         byte(fe.eventCount),
		Cadence:            byte(clamp(t.Cadence, 0, feMaxCadence)),
		AccumulatedPower:   uint16(fe.accPower),
		InstantaneousPower: uint16(power),
	}.Encode()
}

func (fe *FitnessEquipment) capabilitiesPage() []byte {
	return antpage.FECapabilities{
		Channel:           fe.channel,
		MaximumResistance: feMaxResistanceN,
		CapabilitiesBits:  antpage.CapabilityBasicResistance | antpage.CapabilityTargetPower | antpage.CapabilitySimulation,
	}.Encode()
}

func (fe *FitnessEquipment) publish() {
	fe.targets.Notify(fe.target)
}

func (fe *FitnessEquipment) handleBasicResistance(payload []byte) ([][]byte, error) {
	p, err := antpage.DecodeBasicResistance(payload)
	if err != nil {
		return nil, fmt.Errorf("FE: %w", err)
	}
	fe.recordCommand(antpage.NumberBasicResistance, payload)

	// 0..100 % resistance maps linearly on 0..20 % grade
	fe.target.Mode = ModeBasicResistance
	fe.target.ResistancePercent = p.Percent()
	fe.target.GradePercent = p.Percent() * 0.2 * fe.opts.GradeFactor
	fe.logger.Printf("FE: basic resistance %.1f%% -> grade %.2f%%", p.Percent(), fe.target.GradePercent)
	fe.publish()
	return nil, nil
}

func (fe *FitnessEquipment) handleTargetPower(payload []byte) ([][]byte, error) {
	p, err := antpage.DecodeTargetPower(payload)
	if err != nil {
		return nil, fmt.Errorf("FE: %w", err)
	}
	fe.recordCommand(antpage.NumberTargetPower, payload)

	fe.lastTargetPower = fe.now()
	fe.targetPowerReceived = true
	fe.target.Mode = ModeTargetPower
	fe.target.PowerWatts = p.Watts()
	fe.logger.Printf("FE: target power %.0fW", p.Watts())
	fe.publish()
	return nil, nil
}

func (fe *FitnessEquipment) handleWindResistance(payload []byte) ([][]byte, error) {
	p, err := antpage.DecodeWindResistance(payload)
	if err != nil {
		return nil, fmt.Errorf("FE: %w", err)
	}
	fe.recordCommand(antpage.NumberWindResistance, payload)

	fe.target.WindResistance = DefaultWindResistance
	if p.WindResistanceCoeff != 0xFF {
		fe.target.WindResistance = float64(p.WindResistanceCoeff) * 0.01
	}
	fe.target.WindSpeedKmh = DefaultWindSpeedKmh
	if p.WindSpeed != 0xFF {
		fe.target.WindSpeedKmh = float64(p.WindSpeed) - 127
	}
	fe.target.DraftingFactor = DefaultDraftingFactor
	if p.DraftingFactor != 0xFF {
		fe.target.DraftingFactor = float64(p.DraftingFactor) * 0.01
	}
	fe.publish()
	return nil, nil
}

// powerModeActive is true while a target power command is younger than the power mode window
func (fe *FitnessEquipment) powerModeActive() bool {
	if !fe.opts.PowerMode || !fe.targetPowerReceived {
		return false
	}
	return fe.now().Sub(fe.lastTargetPower) < fe.opts.PowerModeWindow
}

func (fe *FitnessEquipment) handleTrackResistance(payload []byte) ([][]byte, error) {
	p, err := antpage.DecodeTrackResistance(payload)
	if err != nil {
		return nil, fmt.Errorf("FE: %w", err)
	}
	fe.recordCommand(antpage.NumberTrackResistance, payload)

	if fe.powerModeActive() {
		fe.logger.Printf("FE: grade %.2f%% ignored, target power received %s ago",
			p.GradePercent(), fe.now().Sub(fe.lastTargetPower).Round(time.Second))
		return nil, nil
	}

	fe.target.Mode = ModeSimulation
	fe.target.GradePercent = p.GradePercent() * fe.opts.GradeFactor
	fe.target.RollingResistance = DefaultRollingResistance
	if p.RollingResistance != 0xFF {
		fe.target.RollingResistance = p.RollingResistanceCoeff()
	}
	fe.publish()
	return nil, nil
}

func (fe *FitnessEquipment) handleUserConfiguration(payload []byte) ([][]byte, error) {
	p, err := antpage.DecodeUserConfiguration(payload)
	if err != nil {
		return nil, fmt.Errorf("FE: %w", err)
	}
	fe.recordCommand(antpage.NumberUserConfiguration, payload)

	if p.UserWeight != 0xFFFF {
		fe.target.UserWeightKg = p.UserWeightKg()
	}
	if p.BikeWeight != 0x0FFF {
		fe.target.BikeWeightKg = p.BikeWeightKg()
	}
	if p.WheelDiameter != 0xFF {
		fe.target.WheelDiameterM = p.WheelDiameterM()
	}
	if p.GearRatio != 0x00 {
		fe.target.GearRatio = p.GearRatioValue()
	}
	fe.publish()
	return nil, nil
}
