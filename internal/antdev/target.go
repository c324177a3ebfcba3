package antdev

// TargetMode is the way the trainer resistance is currently controlled
type TargetMode int

const (
	ModeNone TargetMode = iota
	ModeBasicResistance
	ModeTargetPower
	ModeSimulation
)

func (m TargetMode) String() string {
	switch m {
	case ModeBasicResistance:
		return "BasicResistance"
	case ModeTargetPower:
		return "TargetPower"
	case ModeSimulation:
		return "Simulation"
	default:
		return "None"
	}
}

// Target is the resistance state requested by a training application
type Target struct {
	Mode              TargetMode
	PowerWatts        float64
	GradePercent      float64
	ResistancePercent float64

	RollingResistance float64
	WindResistance    float64 // kg/m
	WindSpeedKmh      float64
	DraftingFactor    float64

	UserWeightKg   float64
	BikeWeightKg   float64
	WheelDiameterM float64
	GearRatio      float64
}

// Defaults applied when an application leaves a field at its "invalid" value
const (
	DefaultRollingResistance = 0.004
	DefaultWindResistance    = 0.51
	DefaultWindSpeedKmh      = 0.0
	DefaultDraftingFactor    = 1.0
	DefaultUserWeightKg      = 75.0
	DefaultBikeWeightKg      = 10.0
	DefaultWheelDiameterM    = 0.7
)

func DefaultTarget() Target {
	return Target{
		Mode:              ModeNone,
		RollingResistance: DefaultRollingResistance,
		WindResistance:    DefaultWindResistance,
		WindSpeedKmh:      DefaultWindSpeedKmh,
		DraftingFactor:    DefaultDraftingFactor,
		UserWeightKg:      DefaultUserWeightKg,
		BikeWeightKg:      DefaultBikeWeightKg,
		WheelDiameterM:    DefaultWheelDiameterM,
	}
}
