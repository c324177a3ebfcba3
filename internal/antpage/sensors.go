package antpage

import "encoding/binary"

// PowerOnly is the bicycle power page 16
type PowerOnly struct {
	Channel            byte
	EventCount         byte
	Cadence            byte
	AccumulatedPower   uint16
	InstantaneousPower uint16
}

// PedalPowerNotUsed is injected in the pedal power byte of page 16
const PedalPowerNotUsed byte = 0xFF

func (p PowerOnly) Encode() []byte {
	b := newPage(p.Channel, NumberPowerOnly)
	b[2] = p.EventCount
	b[3] = PedalPowerNotUsed
	b[4] = p.Cadence
	binary.LittleEndian.PutUint16(b[5:7], p.AccumulatedPower)
	binary.LittleEndian.PutUint16(b[7:9], p.InstantaneousPower)
	return b
}

type PowerOnlyFields struct {
	PowerOnly
	PedalPower byte
}

// DecodePowerOnly parses power page 16 including the pedal power byte
func DecodePowerOnly(b []byte) (PowerOnlyFields, error) {
	if err := check(b, NumberPowerOnly); err != nil {
		return PowerOnlyFields{}, err
	}
	return PowerOnlyFields{
		PowerOnly: PowerOnly{
			Channel:            b[0],
			EventCount:         b[2],
			Cadence:            b[4],
			AccumulatedPower:   binary.LittleEndian.Uint16(b[5:7]),
			InstantaneousPower: binary.LittleEndian.Uint16(b[7:9]),
		},
		PedalPower: b[3],
	}, nil
}

// HRMToggleBit flips every 4 messages in the page number byte of heart rate pages
const HRMToggleBit byte = 0x80

// HeartRate is the heart rate monitor page (0, 2 or 3). The three page
// specific bytes carry manufacturer or product info on pages 2 and 3.
type HeartRate struct {
	Channel       byte
	Number        byte
	Toggle        bool
	Specific      [3]byte
	BeatEventTime uint16 // 1/1024 s
	BeatCount     byte
	HeartRate     byte
}

func (p HeartRate) Encode() []byte {
	number := p.Number &^ HRMToggleBit
	if p.Toggle {
		number |= HRMToggleBit
	}
	b := newPage(p.Channel, number)
	copy(b[2:5], p.Specific[:])
	binary.LittleEndian.PutUint16(b[5:7], p.BeatEventTime)
	b[7] = p.BeatCount
	b[8] = p.HeartRate
	return b
}

// DecodeHeartRate accepts any heart rate page number, the toggle bit is split off
func DecodeHeartRate(b []byte) (HeartRate, error) {
	if len(b) < Size {
		return HeartRate{}, ErrShortPage
	}
	p := HeartRate{
		Channel:       b[0],
		Number:        b[1] &^ HRMToggleBit,
		Toggle:        b[1]&HRMToggleBit != 0,
		BeatEventTime: binary.LittleEndian.Uint16(b[5:7]),
		BeatCount:     b[7],
		HeartRate:     b[8],
	}
	copy(p.Specific[:], b[2:5])
	return p, nil
}

// SpeedCadence is the combined bike speed and cadence page; it has no page number byte
type SpeedCadence struct {
	Channel           byte
	CadenceEventTime  uint16 // 1/1024 s
	CadenceEventCount uint16
	SpeedEventTime    uint16 // 1/1024 s
	SpeedEventCount   uint16
}

func (p SpeedCadence) Encode() []byte {
	b := make([]byte, Size)
	b[0] = p.Channel
	binary.LittleEndian.PutUint16(b[1:3], p.CadenceEventTime)
	binary.LittleEndian.PutUint16(b[3:5], p.CadenceEventCount)
	binary.LittleEndian.PutUint16(b[5:7], p.SpeedEventTime)
	binary.LittleEndian.PutUint16(b[7:9], p.SpeedEventCount)
	return b
}

// DecodeSpeedCadence parses the speed and cadence page. There is no page
// number to check, only the length.
func DecodeSpeedCadence(b []byte) (SpeedCadence, error) {
	if len(b) < Size {
		return SpeedCadence{}, ErrShortPage
	}
	return SpeedCadence{
		Channel:           b[0],
		CadenceEventTime:  binary.LittleEndian.Uint16(b[1:3]),
		CadenceEventCount: binary.LittleEndian.Uint16(b[3:5]),
		SpeedEventTime:    binary.LittleEndian.Uint16(b[5:7]),
		SpeedEventCount:   binary.LittleEndian.Uint16(b[7:9]),
	}, nil
}
