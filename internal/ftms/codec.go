package ftms

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var ErrShortData = errors.New("ftms: data too short")

// Feature is the Fitness Machine Feature characteristic
type Feature struct {
	Machine        uint32
	TargetSettings uint32
}

// DefaultFeature advertises cadence and power, ERG and simulation.
// Heart rate is left out, applications do not expect it from a trainer.
func DefaultFeature() Feature {
	return Feature{
		Machine:        FeatureCadence | FeaturePower,
		TargetSettings: TargetSettingPower | TargetSettingSim,
	}
}

func (f Feature) Encode() []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b[0:], f.Machine)
	binary.LittleEndian.PutUint32(b[4:], f.TargetSettings)
	return b
}

func ParseFeature(buf []byte) (Feature, error) {
	if len(buf) < 8 {
		return Feature{}, fmt.Errorf("feature of %d bytes: %w", len(buf), ErrShortData)
	}
	return Feature{
		Machine:        binary.LittleEndian.Uint32(buf[0:]),
		TargetSettings: binary.LittleEndian.Uint32(buf[4:]),
	}, nil
}

// PowerRange is the Supported Power Range characteristic
type PowerRange struct {
	MinWatts  int16
	MaxWatts  int16
	Increment uint16
}

func DefaultPowerRange() PowerRange {
	return PowerRange{MinWatts: 0, MaxWatts: 1000, Increment: 1}
}

func (r PowerRange) Encode() []byte {
	b := make([]byte, 6)
	binary.LittleEndian.PutUint16(b[0:], uint16(r.MinWatts))
	binary.LittleEndian.PutUint16(b[2:], uint16(r.MaxWatts))
	binary.LittleEndian.PutUint16(b[4:], r.Increment)
	return b
}

func ParsePowerRange(buf []byte) (PowerRange, error) {
	if len(buf) < 6 {
		return PowerRange{}, fmt.Errorf("supported power range of %d bytes: %w", len(buf), ErrShortData)
	}
	return PowerRange{
		MinWatts:  int16(binary.LittleEndian.Uint16(buf[0:])),
		MaxWatts:  int16(binary.LittleEndian.Uint16(buf[2:])),
		Increment: binary.LittleEndian.Uint16(buf[4:]),
	}, nil
}

// Contains reports whether watts can be set as a target
func (r PowerRange) Contains(watts int16) bool {
	return watts >= r.MinWatts && watts <= r.MaxWatts
}

// IndoorBikeData holds all fields from the FTMS Indoor Bike Data characteristic
type IndoorBikeData struct {
	// Present flags
	HasInstantaneousSpeed   bool
	HasAverageSpeed         bool
	HasInstantaneousCadence bool
	HasAverageCadence       bool
	HasTotalDistance        bool
	HasResistanceLevel      bool
	HasInstantaneousPower   bool
	HasAveragePower         bool
	HasExpendedEnergy       bool
	HasHeartRate            bool
	HasMetabolicEquivalent  bool
	HasElapsedTime          bool
	HasRemainingTime        bool

	// Data fields (scaled to human-readable units)
	InstantaneousSpeedKmh   float64 // km/h
	AverageSpeedKmh         float64 // km/h
	InstantaneousCadenceRpm float64 // rpm
	AverageCadenceRpm       float64 // rpm
	TotalDistanceMeters     uint32  // meters, 24 bits
	ResistanceLevel         int16
	InstantaneousPowerWatts int16
	AveragePowerWatts       int16
	TotalEnergyKJ           uint16
	EnergyPerHourKJ         uint16
	EnergyPerMinuteKJ       uint8
	HeartRateBpm            uint8
	MetabolicEquivalent     float64 // MET
	ElapsedTimeSeconds      uint16
	RemainingTimeSeconds    uint16
}

// Indoor Bike Data flag bits
const (
	ibdFlagMoreData             = 1 << 0 // 0 = Instantaneous Speed present
	ibdFlagAverageSpeed         = 1 << 1
	ibdFlagInstantaneousCadence = 1 << 2
	ibdFlagAverageCadence       = 1 << 3
	ibdFlagTotalDistance        = 1 << 4
	ibdFlagResistanceLevel      = 1 << 5
	ibdFlagInstantaneousPower   = 1 << 6
	ibdFlagAveragePower         = 1 << 7
	ibdFlagExpendedEnergy       = 1 << 8
	ibdFlagHeartRate            = 1 << 9
	ibdFlagMetabolicEquivalent  = 1 << 10
	ibdFlagElapsedTime          = 1 << 11
	ibdFlagRemainingTime        = 1 << 12
)

// NewIndoorBikeData is the record sent to applications: speed, cadence, power and heart rate
func NewIndoorBikeData(speedKmh float64, cadenceRpm, powerWatts, heartRate int) IndoorBikeData {
	return IndoorBikeData{
		HasInstantaneousSpeed:   true,
		HasInstantaneousCadence: true,
		HasInstantaneousPower:   true,
		HasHeartRate:            true,
		InstantaneousSpeedKmh:   speedKmh,
		InstantaneousCadenceRpm: float64(cadenceRpm),
		InstantaneousPowerWatts: int16(clamp(powerWatts, math.MinInt16, math.MaxInt16)),
		HeartRateBpm:            uint8(clamp(heartRate, 0, math.MaxUint8)),
	}
}

func (d IndoorBikeData) flags() uint16 {
	var f uint16
	if !d.HasInstantaneousSpeed {
		f |= ibdFlagMoreData
	}
	set := func(present bool, bit uint16) {
		if present {
			f |= bit
		}
	}
	set(d.HasAverageSpeed, ibdFlagAverageSpeed)
	set(d.HasInstantaneousCadence, ibdFlagInstantaneousCadence)
	set(d.HasAverageCadence, ibdFlagAverageCadence)
	set(d.HasTotalDistance, ibdFlagTotalDistance)
	set(d.HasResistanceLevel, ibdFlagResistanceLevel)
	set(d.HasInstantaneousPower, ibdFlagInstantaneousPower)
	set(d.HasAveragePower, ibdFlagAveragePower)
	set(d.HasExpendedEnergy, ibdFlagExpendedEnergy)
	set(d.HasHeartRate, ibdFlagHeartRate)
	set(d.HasMetabolicEquivalent, ibdFlagMetabolicEquivalent)
	set(d.HasElapsedTime, ibdFlagElapsedTime)
	set(d.HasRemainingTime, ibdFlagRemainingTime)
	return f
}

// Encode writes the present fields in the order the characteristic defines
func (d IndoorBikeData) Encode() []byte {
	b := binary.LittleEndian.AppendUint16(nil, d.flags())
	u16 := func(v uint16) { b = binary.LittleEndian.AppendUint16(b, v) }

	if d.HasInstantaneousSpeed {
		u16(scaled(d.InstantaneousSpeedKmh, 100))
	}
	if d.HasAverageSpeed {
		u16(scaled(d.AverageSpeedKmh, 100))
	}
	if d.HasInstantaneousCadence {
		u16(scaled(d.InstantaneousCadenceRpm, 2))
	}
	if d.HasAverageCadence {
		u16(scaled(d.AverageCadenceRpm, 2))
	}
	if d.HasTotalDistance {
		b = append(b, byte(d.TotalDistanceMeters), byte(d.TotalDistanceMeters>>8), byte(d.TotalDistanceMeters>>16))
	}
	if d.HasResistanceLevel {
		u16(uint16(d.ResistanceLevel))
	}
	if d.HasInstantaneousPower {
		u16(uint16(d.InstantaneousPowerWatts))
	}
	if d.HasAveragePower {
		u16(uint16(d.AveragePowerWatts))
	}
	if d.HasExpendedEnergy {
		u16(d.TotalEnergyKJ)
		u16(d.EnergyPerHourKJ)
		b = append(b, d.EnergyPerMinuteKJ)
	}
	if d.HasHeartRate {
		b = append(b, d.HeartRateBpm)
	}
	if d.HasMetabolicEquivalent {
		b = append(b, byte(clamp(int(math.Round(d.MetabolicEquivalent*10)), 0, math.MaxUint8)))
	}
	if d.HasElapsedTime {
		u16(d.ElapsedTimeSeconds)
	}
	if d.HasRemainingTime {
		u16(d.RemainingTimeSeconds)
	}
	return b
}

// ParseIndoorBikeData parses all fields from the FTMS Indoor Bike Data characteristic
func ParseIndoorBikeData(buf []byte) (*IndoorBikeData, error) {
	if len(buf) < 2 {
		return nil, fmt.Errorf("indoor bike data of %d bytes: %w", len(buf), ErrShortData)
	}
	r := reader{buf: buf[2:], offset: 2}
	flags := binary.LittleEndian.Uint16(buf)

	data := &IndoorBikeData{
		HasInstantaneousSpeed:   flags&ibdFlagMoreData == 0,
		HasAverageSpeed:         flags&ibdFlagAverageSpeed != 0,
		HasInstantaneousCadence: flags&ibdFlagInstantaneousCadence != 0,
		HasAverageCadence:       flags&ibdFlagAverageCadence != 0,
		HasTotalDistance:        flags&ibdFlagTotalDistance != 0,
		HasResistanceLevel:      flags&ibdFlagResistanceLevel != 0,
		HasInstantaneousPower:   flags&ibdFlagInstantaneousPower != 0,
		HasAveragePower:         flags&ibdFlagAveragePower != 0,
		HasExpendedEnergy:       flags&ibdFlagExpendedEnergy != 0,
		HasHeartRate:            flags&ibdFlagHeartRate != 0,
		HasMetabolicEquivalent:  flags&ibdFlagMetabolicEquivalent != 0,
		HasElapsedTime:          flags&ibdFlagElapsedTime != 0,
		HasRemainingTime:        flags&ibdFlagRemainingTime != 0,
	}

	if data.HasInstantaneousSpeed {
		data.InstantaneousSpeedKmh = float64(r.u16("instantaneous speed")) / 100
	}
	if data.HasAverageSpeed {
		data.AverageSpeedKmh = float64(r.u16("average speed")) / 100
	}
	if data.HasInstantaneousCadence {
		data.InstantaneousCadenceRpm = float64(r.u16("instantaneous cadence")) / 2
	}
	if data.HasAverageCadence {
		data.AverageCadenceRpm = float64(r.u16("average cadence")) / 2
	}
	if data.HasTotalDistance {
		lo := uint32(r.u16("total distance"))
		data.TotalDistanceMeters = lo | uint32(r.u8("total distance"))<<16
	}
	if data.HasResistanceLevel {
		data.ResistanceLevel = int16(r.u16("resistance level"))
	}
	if data.HasInstantaneousPower {
		data.InstantaneousPowerWatts = int16(r.u16("instantaneous power"))
	}
	if data.HasAveragePower {
		data.AveragePowerWatts = int16(r.u16("average power"))
	}
	if data.HasExpendedEnergy {
		data.TotalEnergyKJ = r.u16("expended energy")
		data.EnergyPerHourKJ = r.u16("expended energy")
		data.EnergyPerMinuteKJ = r.u8("expended energy")
	}
	if data.HasHeartRate {
		data.HeartRateBpm = r.u8("heart rate")
	}
	if data.HasMetabolicEquivalent {
		data.MetabolicEquivalent = float64(r.u8("metabolic equivalent")) / 10
	}
	if data.HasElapsedTime {
		data.ElapsedTimeSeconds = r.u16("elapsed time")
	}
	if data.HasRemainingTime {
		data.RemainingTimeSeconds = r.u16("remaining time")
	}

	if r.err != nil {
		return nil, r.err
	}
	return data, nil
}

// reader walks a little-endian buffer and keeps the first error
type reader struct {
	buf    []byte
	offset int
	err    error
}

func (r *reader) need(n int, field string) bool {
	if r.err != nil {
		return false
	}
	if len(r.buf) < n {
		r.err = fmt.Errorf("buffer too short for %s at offset %d: %w", field, r.offset, ErrShortData)
		return false
	}
	return true
}

func (r *reader) u8(field string) uint8 {
	if !r.need(1, field) {
		return 0
	}
	v := r.buf[0]
	r.buf = r.buf[1:]
	r.offset++
	return v
}

func (r *reader) u16(field string) uint16 {
	if !r.need(2, field) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.buf)
	r.buf = r.buf[2:]
	r.offset += 2
	return v
}

func scaled(v, factor float64) uint16 {
	return uint16(clamp(int(math.Round(v*factor)), 0, math.MaxUint16))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ParseHeartRateMeasurement returns the bpm of a Heart Rate Measurement
// notification, 8 or 16 bits wide depending on flag bit 0
func ParseHeartRateMeasurement(buf []byte) (int, error) {
	if len(buf) < 2 {
		return 0, fmt.Errorf("heart rate measurement of %d bytes: %w", len(buf), ErrShortData)
	}
	if buf[0]&0x01 == 0 {
		return int(buf[1]), nil
	}
	if len(buf) < 3 {
		return 0, fmt.Errorf("16 bit heart rate measurement of %d bytes: %w", len(buf), ErrShortData)
	}
	return int(binary.LittleEndian.Uint16(buf[1:])), nil
}
