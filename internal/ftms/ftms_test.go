package ftms

import (
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/antdev"
)

func TestFeature(t *testing.T) {
	b := DefaultFeature().Encode()
	assert.Equal(t, []byte{0x02, 0x40, 0x00, 0x00, 0x08, 0x20, 0x00, 0x00}, b)

	f, err := ParseFeature(b)
	require.NoError(t, err)
	assert.Equal(t, DefaultFeature(), f)

	_, err = ParseFeature(b[:7])
	assert.ErrorIs(t, err, ErrShortData)
}

func TestPowerRange(t *testing.T) {
	r := DefaultPowerRange()
	assert.Equal(t, []byte{0x00, 0x00, 0xE8, 0x03, 0x01, 0x00}, r.Encode())
	assert.True(t, r.Contains(0))
	assert.True(t, r.Contains(1000))
	assert.False(t, r.Contains(1001))
	assert.False(t, r.Contains(-1))
}

func TestIndoorBikeData_Encode(t *testing.T) {
	d := NewIndoorBikeData(30.5, 90, 250, 140)
	// flags 0x0244: cadence, power, heart rate, speed present (bit 0 clear)
	assert.Equal(t, []byte{
		0x44, 0x02,
		0xEA, 0x0B, // 3050 * 0.01 km/h
		0xB4, 0x00, // 180 * 0.5 rpm
		0xFA, 0x00, // 250 W
		0x8C, // 140 bpm
	}, d.Encode())
}

func TestParseIndoorBikeData_LoggedSample(t *testing.T) {
	// "44 00 28 55 ec 00 3e 01": speed 218 km/h, cadence 118 rpm, power 318 W
	d, err := ParseIndoorBikeData([]byte{0x44, 0x00, 0x28, 0x55, 0xEC, 0x00, 0x3E, 0x01})
	require.NoError(t, err)
	assert.True(t, d.HasInstantaneousSpeed)
	assert.InDelta(t, 218.0, d.InstantaneousSpeedKmh, 0.001)
	assert.True(t, d.HasInstantaneousCadence)
	assert.InDelta(t, 118.0, d.InstantaneousCadenceRpm, 0.001)
	assert.True(t, d.HasInstantaneousPower)
	assert.Equal(t, int16(318), d.InstantaneousPowerWatts)
	assert.False(t, d.HasHeartRate)
}

func TestParseIndoorBikeData_AllFields(t *testing.T) {
	in := IndoorBikeData{
		HasInstantaneousSpeed: true, InstantaneousSpeedKmh: 25.5,
		HasAverageSpeed: true, AverageSpeedKmh: 24,
		HasInstantaneousCadence: true, InstantaneousCadenceRpm: 85.5,
		HasAverageCadence: true, AverageCadenceRpm: 80,
		HasTotalDistance: true, TotalDistanceMeters: 0x012345,
		HasResistanceLevel: true, ResistanceLevel: -5,
		HasInstantaneousPower: true, InstantaneousPowerWatts: 210,
		HasAveragePower: true, AveragePowerWatts: 190,
		HasExpendedEnergy: true, TotalEnergyKJ: 300, EnergyPerHourKJ: 700, EnergyPerMinuteKJ: 12,
		HasHeartRate: true, HeartRateBpm: 150,
		HasMetabolicEquivalent: true, MetabolicEquivalent: 7.5,
		HasElapsedTime: true, ElapsedTimeSeconds: 3600,
		HasRemainingTime: true, RemainingTimeSeconds: 600,
	}
	b := in.Encode()
	assert.Len(t, b, 2+2+2+2+2+3+2+2+2+5+1+1+2+2)

	out, err := ParseIndoorBikeData(b)
	require.NoError(t, err)
	assert.InDelta(t, in.MetabolicEquivalent, out.MetabolicEquivalent, 0.001)
	out.MetabolicEquivalent = in.MetabolicEquivalent
	assert.Equal(t, in, *out)
}

func TestParseIndoorBikeData_Short(t *testing.T) {
	_, err := ParseIndoorBikeData([]byte{0x44})
	assert.ErrorIs(t, err, ErrShortData)

	// power flagged but missing
	_, err = ParseIndoorBikeData([]byte{0x41, 0x00})
	assert.ErrorIs(t, err, ErrShortData)
	assert.ErrorContains(t, err, "instantaneous power at offset 2")
}

func TestSimulationParameters(t *testing.T) {
	// "12 00 00 90 01 28 33": grade 4 %, crr 0.004, cw 0.51
	p, err := ParseSimulationParameters([]byte{0x00, 0x00, 0x90, 0x01, 0x28, 0x33})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, p.WindSpeedMps, 0.0001)
	assert.InDelta(t, 4.0, p.GradePercent, 0.0001)
	assert.InDelta(t, 0.004, p.RollingResistance, 0.00001)
	assert.InDelta(t, 0.51, p.WindResistance, 0.0001)

	neg := SimulationParameters{WindSpeedMps: -2.5, GradePercent: -3.25, RollingResistance: 0.005, WindResistance: 0.6}
	assert.Equal(t, []byte{0x3C, 0xF6, 0xBB, 0xFE, 50, 60}, neg.Encode())
}

func TestResponse(t *testing.T) {
	b := Response{RequestOpCode: OpSetTargetPower, Result: ResultSuccess}.Encode()
	assert.Equal(t, []byte{0x80, 0x05, 0x01}, b)

	r, err := ParseResponse(b)
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, r.Result)

	_, err = ParseResponse([]byte{0x05, 0x05, 0x01})
	assert.Error(t, err)
	_, err = ParseResponse([]byte{0x80})
	assert.ErrorIs(t, err, ErrShortData)
}

func newTestController() *Controller {
	return NewController(log.New(io.Discard, "", 0), DefaultPowerRange())
}

func TestController_RequiresControl(t *testing.T) {
	c := newTestController()

	resp, statuses := c.Handle(SetTargetPowerRequest(200).Encode())
	assert.Equal(t, Response{RequestOpCode: OpSetTargetPower, Result: ResultControlNotPermitted}, resp)
	assert.Empty(t, statuses)

	resp, _ = c.Handle([]byte{byte(OpRequestControl)})
	assert.Equal(t, ResultSuccess, resp.Result)
	assert.True(t, c.Controlled())

	resp, _ = c.Handle([]byte{byte(OpSetTargetResistance), 100, 0})
	assert.Equal(t, ResultOpCodeNotSupported, resp.Result)

	resp, _ = c.Handle(nil)
	assert.Equal(t, ResultInvalidParameter, resp.Result)
}

func TestController_TargetPower(t *testing.T) {
	c := newTestController()
	targets := make(chan antdev.Target, 4)
	c.Targets().Listen(targets)

	c.Handle([]byte{byte(OpRequestControl)})
	resp, statuses := c.Handle(SetTargetPowerRequest(250).Encode())
	assert.Equal(t, ResultSuccess, resp.Result)
	require.Len(t, statuses, 1)
	assert.Equal(t, []byte{0x08, 0xFA, 0x00}, statuses[0].Encode())

	target := <-targets
	assert.Equal(t, antdev.ModeTargetPower, target.Mode)
	assert.Equal(t, 250.0, target.PowerWatts)

	resp, statuses = c.Handle(SetTargetPowerRequest(1500).Encode())
	assert.Equal(t, ResultInvalidParameter, resp.Result)
	assert.Empty(t, statuses)
	assert.Equal(t, 250.0, c.Target().PowerWatts)
}

func TestController_Simulation(t *testing.T) {
	c := newTestController()
	c.Handle([]byte{byte(OpRequestControl)})

	params := SimulationParameters{WindSpeedMps: 2, GradePercent: 5.5, RollingResistance: 0.004, WindResistance: 0.51}
	resp, statuses := c.Handle(SetSimulationRequest(params).Encode())
	assert.Equal(t, ResultSuccess, resp.Result)
	require.Len(t, statuses, 1)
	assert.Equal(t, append([]byte{0x12}, params.Encode()...), statuses[0].Encode())

	target := c.Target()
	assert.Equal(t, antdev.ModeSimulation, target.Mode)
	assert.InDelta(t, 5.5, target.GradePercent, 0.001)
	assert.InDelta(t, 7.2, target.WindSpeedKmh, 0.001)
	assert.InDelta(t, 0.004, target.RollingResistance, 0.00001)

	resp, _ = c.Handle([]byte{byte(OpSetIndoorBikeSimulation), 0, 0})
	assert.Equal(t, ResultInvalidParameter, resp.Result)
}

func TestController_StartStopReset(t *testing.T) {
	c := newTestController()
	c.Handle([]byte{byte(OpRequestControl)})

	_, statuses := c.Handle([]byte{byte(OpStartOrResume)})
	assert.Equal(t, []Status{{Code: StatusStartedOrResumedByUser}}, statuses)
	assert.True(t, c.Running())

	_, statuses = c.Handle([]byte{byte(OpStopOrPause), 2})
	assert.Equal(t, []byte{0x02, 0x02}, statuses[0].Encode())
	assert.False(t, c.Running())

	resp, _ := c.Handle([]byte{byte(OpStopOrPause), 9})
	assert.Equal(t, ResultInvalidParameter, resp.Result)

	c.Handle(SetTargetPowerRequest(300).Encode())
	_, statuses = c.Handle([]byte{byte(OpReset)})
	assert.Equal(t, []Status{{Code: StatusReset}}, statuses)
	assert.False(t, c.Controlled())
	assert.Equal(t, antdev.DefaultTarget(), c.Target())
}

func TestParsePowerRange(t *testing.T) {
	// value read from a server during inspection
	r, err := ParsePowerRange([]byte{0x00, 0x00, 0xE8, 0x03, 0x01, 0x00})
	require.NoError(t, err)
	assert.Equal(t, DefaultPowerRange(), r)

	_, err = ParsePowerRange([]byte{0x00, 0x00})
	assert.ErrorIs(t, err, ErrShortData)
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus(Status{Code: StatusTargetPowerChanged, Parameter: []byte{0xFA, 0x00}}.Encode())
	require.NoError(t, err)
	assert.Equal(t, StatusTargetPowerChanged, s.Code)
	assert.Equal(t, []byte{0xFA, 0x00}, s.Parameter)
	assert.Equal(t, "Target Power Changed", s.Code.String())

	_, err = ParseStatus(nil)
	assert.ErrorIs(t, err, ErrShortData)
}

func TestParseHeartRateMeasurement(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
		bpm  int
		err  bool
	}{
		{"8 bit", []byte{0x00, 142}, 142, false},
		{"16 bit", []byte{0x01, 0x2C, 0x01}, 300, false},
		{"16 bit truncated", []byte{0x01, 0x2C}, 0, true},
		{"empty", nil, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bpm, err := ParseHeartRateMeasurement(tt.buf)
			if tt.err {
				assert.ErrorIs(t, err, ErrShortData)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.bpm, bpm)
		})
	}
}

func TestRequestBuilders(t *testing.T) {
	assert.Equal(t, []byte{0x00}, SimpleRequest(OpRequestControl).Encode())
	assert.Equal(t, []byte{0x08, 0x01}, StopRequest(false).Encode())
	assert.Equal(t, []byte{0x08, 0x02}, StopRequest(true).Encode())
	assert.Equal(t, []byte{0x05, 0x32, 0x00}, SetTargetPowerRequest(50).Encode())
}
