package antpage

import "encoding/binary"

// Constants injected into the FE general and specific trainer pages
const (
	EquipmentTypeTrainer byte = 0x19
	// hand contact HR, no distance, real speed, state IN USE
	GeneralFECapabilities byte = 0x33
	SpecificTrainerFlags  byte = 0x30
)

// GeneralFE is FE page 16
type GeneralFE struct {
	Channel     byte
	ElapsedTime byte   // 0.25 s, rolls over at 64 s
	Distance    byte   // m, rolls over at 256 m
	Speed       uint16 // mm/s
	HeartRate   byte
}

func (p GeneralFE) Encode() []byte {
	b := newPage(p.Channel, NumberGeneralFE)
	b[2] = EquipmentTypeTrainer
	b[3] = p.ElapsedTime
	b[4] = p.Distance
	binary.LittleEndian.PutUint16(b[5:7], p.Speed)
	b[7] = p.HeartRate
	b[8] = GeneralFECapabilities
	return b
}

// GeneralFEFields is page 16 as decoded, injected constants included
type GeneralFEFields struct {
	GeneralFE
	EquipmentType byte
	Capabilities  byte
}

// DecodeGeneralFE parses page 16, equipment type and capabilities included
func DecodeGeneralFE(b []byte) (GeneralFEFields, error) {
	if err := check(b, NumberGeneralFE); err != nil {
		return GeneralFEFields{}, err
	}
	return GeneralFEFields{
		GeneralFE: GeneralFE{
			Channel:     b[0],
			ElapsedTime: b[3],
			Distance:    b[4],
			Speed:       binary.LittleEndian.Uint16(b[5:7]),
			HeartRate:   b[7],
		},
		EquipmentType: b[2],
		Capabilities:  b[8],
	}, nil
}

// SpecificTrainer is FE page 25
type SpecificTrainer struct {
	Channel          byte
	EventCount       byte
	Cadence          byte
	AccumulatedPower uint16
	// low 12 bits power, high 4 bits trainer status
	InstantaneousPower uint16
}

func (p SpecificTrainer) Encode() []byte {
	b := newPage(p.Channel, NumberSpecificTrainer)
	b[2] = p.EventCount
	b[3] = p.Cadence
	binary.LittleEndian.PutUint16(b[4:6], p.AccumulatedPower)
	binary.LittleEndian.PutUint16(b[6:8], p.InstantaneousPower)
	b[8] = SpecificTrainerFlags
	return b
}

type SpecificTrainerFields struct {
	SpecificTrainer
	Flags byte
}

// DecodeSpecificTrainer parses page 25
func DecodeSpecificTrainer(b []byte) (SpecificTrainerFields, error) {
	if err := check(b, NumberSpecificTrainer); err != nil {
		return SpecificTrainerFields{}, err
	}
	return SpecificTrainerFields{
		SpecificTrainer: SpecificTrainer{
			Channel:            b[0],
			EventCount:         b[2],
			Cadence:            b[3],
			AccumulatedPower:   binary.LittleEndian.Uint16(b[4:6]),
			InstantaneousPower: binary.LittleEndian.Uint16(b[6:8]),
		},
		Flags: b[8],
	}, nil
}

// BasicResistance is FE page 48
type BasicResistance struct {
	Channel    byte
	Resistance byte // 0.5 %
}

// Percent of maximum resistance
func (p BasicResistance) Percent() float64 {
	return float64(p.Resistance) * 0.5
}

func (p BasicResistance) Encode() []byte {
	b := newPage(p.Channel, NumberBasicResistance)
	for i := 2; i < 8; i++ {
		b[i] = 0xFF
	}
	b[8] = p.Resistance
	return b
}

// DecodeBasicResistance parses page 48
func DecodeBasicResistance(b []byte) (BasicResistance, error) {
	if err := check(b, NumberBasicResistance); err != nil {
		return BasicResistance{}, err
	}
	return BasicResistance{Channel: b[0], Resistance: b[8]}, nil
}

// TargetPower is FE page 49
type TargetPower struct {
	Channel byte
	Power   uint16 // 0.25 W
}

func (p TargetPower) Watts() float64 {
	return float64(p.Power) * 0.25
}

func (p TargetPower) Encode() []byte {
	b := newPage(p.Channel, NumberTargetPower)
	for i := 2; i < 7; i++ {
		b[i] = 0xFF
	}
	binary.LittleEndian.PutUint16(b[7:9], p.Power)
	return b
}

// DecodeTargetPower parses page 49, the power stays in 0.25 W units
func DecodeTargetPower(b []byte) (TargetPower, error) {
	if err := check(b, NumberTargetPower); err != nil {
		return TargetPower{}, err
	}
	return TargetPower{Channel: b[0], Power: binary.LittleEndian.Uint16(b[7:9])}, nil
}

// WindResistance is FE page 50. 0xFF in any field means "use the default".
type WindResistance struct {
	Channel             byte
	WindResistanceCoeff byte // 0.01 kg/m
	WindSpeed           byte // km/h, offset 127
	DraftingFactor      byte // 0.01
}

func (p WindResistance) Encode() []byte {
	b := newPage(p.Channel, NumberWindResistance)
	for i := 2; i < 6; i++ {
		b[i] = 0xFF
	}
	b[6] = p.WindResistanceCoeff
	b[7] = p.WindSpeed
	b[8] = p.DraftingFactor
	return b
}

// DecodeWindResistance parses page 50, the values are kept raw
func DecodeWindResistance(b []byte) (WindResistance, error) {
	if err := check(b, NumberWindResistance); err != nil {
		return WindResistance{}, err
	}
	return WindResistance{
		Channel:             b[0],
		WindResistanceCoeff: b[6],
		WindSpeed:           b[7],
		DraftingFactor:      b[8],
	}, nil
}

// TrackResistance is FE page 51
type TrackResistance struct {
	Channel           byte
	Grade             uint16 // 0.01 %, offset -200 %
	RollingResistance byte   // 5e-5
}

// GradePercent converts the raw grade
func (p TrackResistance) GradePercent() float64 {
	return float64(p.Grade)*0.01 - 200
}

// RollingResistanceCoeff converts the raw rolling resistance
func (p TrackResistance) RollingResistanceCoeff() float64 {
	return float64(p.RollingResistance) * 0.00005
}

func (p TrackResistance) Encode() []byte {
	b := newPage(p.Channel, NumberTrackResistance)
	for i := 2; i < 6; i++ {
		b[i] = 0xFF
	}
	binary.LittleEndian.PutUint16(b[6:8], p.Grade)
	b[8] = p.RollingResistance
	return b
}

// DecodeTrackResistance parses page 51
func DecodeTrackResistance(b []byte) (TrackResistance, error) {
	if err := check(b, NumberTrackResistance); err != nil {
		return TrackResistance{}, err
	}
	return TrackResistance{
		Channel:           b[0],
		Grade:             binary.LittleEndian.Uint16(b[6:8]),
		RollingResistance: b[8],
	}, nil
}

// FE capability bits of page 54
const (
	CapabilityBasicResistance byte = 0x01
	CapabilityTargetPower     byte = 0x02
	CapabilitySimulation      byte = 0x04
)

// FECapabilities is FE page 54
type FECapabilities struct {
	Channel           byte
	MaximumResistance uint16 // N
	CapabilitiesBits  byte
}

func (p FECapabilities) Encode() []byte {
	b := newPage(p.Channel, NumberFECapabilities)
	for i := 2; i < 6; i++ {
		b[i] = 0xFF
	}
	binary.LittleEndian.PutUint16(b[6:8], p.MaximumResistance)
	b[8] = p.CapabilitiesBits
	return b
}

// DecodeFECapabilities parses page 54
func DecodeFECapabilities(b []byte) (FECapabilities, error) {
	if err := check(b, NumberFECapabilities); err != nil {
		return FECapabilities{}, err
	}
	return FECapabilities{
		Channel:           b[0],
		MaximumResistance: binary.LittleEndian.Uint16(b[6:8]),
		CapabilitiesBits:  b[8],
	}, nil
}

// UserConfiguration is FE page 55
type UserConfiguration struct {
	Channel             byte
	UserWeight          uint16 // 0.01 kg
	WheelDiameterOffset byte   // mm, 4 bit
	BikeWeight          uint16 // 0.05 kg, 12 bit
	WheelDiameter       byte   // 0.01 m
	GearRatio           byte   // 0.03
}

func (p UserConfiguration) UserWeightKg() float64 { return float64(p.UserWeight) * 0.01 }
func (p UserConfiguration) BikeWeightKg() float64 { return float64(p.BikeWeight) * 0.05 }
func (p UserConfiguration) WheelDiameterM() float64 {
	return float64(p.WheelDiameter)*0.01 + float64(p.WheelDiameterOffset)*0.001
}
func (p UserConfiguration) GearRatioValue() float64 { return float64(p.GearRatio) * 0.03 }

func (p UserConfiguration) Encode() []byte {
	b := newPage(p.Channel, NumberUserConfiguration)
	binary.LittleEndian.PutUint16(b[2:4], p.UserWeight)
	b[4] = 0xFF
	b[5] = p.WheelDiameterOffset&0x0F | byte(p.BikeWeight&0x0F)<<4
	b[6] = byte(p.BikeWeight >> 4)
	b[7] = p.WheelDiameter
	b[8] = p.GearRatio
	return b
}

// DecodeUserConfiguration parses page 55; the unit helpers scale the raw fields
func DecodeUserConfiguration(b []byte) (UserConfiguration, error) {
	if err := check(b, NumberUserConfiguration); err != nil {
		return UserConfiguration{}, err
	}
	return UserConfiguration{
		Channel:             b[0],
		UserWeight:          binary.LittleEndian.Uint16(b[2:4]),
		WheelDiameterOffset: b[5] & 0x0F,
		BikeWeight:          uint16(b[6])<<4 | uint16(b[5]>>4),
		WheelDiameter:       b[7],
		GearRatio:           b[8],
	}, nil
}
