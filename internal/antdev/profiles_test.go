package antdev

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/ant"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/antpage"
)

func TestHeartRateMonitor_Schedule(t *testing.T) {
	clk := newFakeClock()
	h := NewHeartRateMonitor(newTestLogger(), HRMConfig(true, 1))
	h.now = clk.now
	h.SetChannel(1)
	h.Initialize()

	for tick := 0; tick < 256; tick++ {
		p, err := antpage.DecodeHeartRate(ant.Decompose(h.Broadcast(Telemetry{HeartRate: 120})).Payload)
		require.NoError(t, err)

		slot := tick % 64
		switch {
		case slot <= 55:
			assert.Equal(t, antpage.NumberHRMDefault, p.Number, "tick %d", tick)
		case slot <= 59:
			assert.Equal(t, antpage.NumberHRMManufacturer, p.Number, "tick %d", tick)
		default:
			assert.Equal(t, antpage.NumberHRMProduct, p.Number, "tick %d", tick)
		}
		// toggles on tick 0, 4, 8, ... so ticks 0..3 carry the bit
		assert.Equal(t, (tick/4)%2 == 0, p.Toggle, "tick %d", tick)
		assert.Equal(t, byte(120), p.HeartRate)
	}
}

func TestHeartRateMonitor_BeatRollover(t *testing.T) {
	clk := newFakeClock()
	h := NewHeartRateMonitor(newTestLogger(), HRMConfig(true, 1))
	h.now = clk.now
	h.Initialize()

	// 240 bpm: one beat every 0.25 s
	tel := Telemetry{HeartRate: 240}
	var last antpage.HeartRate
	for i := 0; i < 300; i++ {
		clk.advance(250 * time.Millisecond)
		p, err := antpage.DecodeHeartRate(ant.Decompose(h.Broadcast(tel)).Payload)
		require.NoError(t, err)
		assert.Less(t, float64(p.BeatEventTime)/1024, 64.0)
		last = p
	}
	// the 256th beat hits the 64 s rollover and restarts the count at 0
	assert.Equal(t, byte(300-256), last.BeatCount)

	// zero heart rate never beats
	before := last.BeatCount
	clk.advance(10 * time.Second)
	p, err := antpage.DecodeHeartRate(ant.Decompose(h.Broadcast(Telemetry{})).Payload)
	require.NoError(t, err)
	assert.Equal(t, before, p.BeatCount)
}

func TestHeartRateMonitor_Slave(t *testing.T) {
	h := NewHeartRateMonitor(newTestLogger(), HRMConfig(false, 0))
	h.SetChannel(3)
	assert.Nil(t, h.Broadcast(Telemetry{HeartRate: 100}))

	ch := make(chan int, 4)
	h.HeartRateEvents().Listen(ch)

	page := antpage.HeartRate{Channel: 3, Number: 4, Toggle: true, HeartRate: 133}.Encode()
	_, err := Dispatch(h, ant.Decompose(ant.BroadcastData(page)))
	require.NoError(t, err)
	assert.Equal(t, 133, h.HeartRate())

	select {
	case hr := <-ch:
		assert.Equal(t, 133, hr)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout waiting for heart rate")
	}
}

func TestPower_Schedule(t *testing.T) {
	p := NewPower(newTestLogger(), PWRConfig(true, 2))
	p.SetChannel(2)
	p.Initialize()

	pages := make([]int, 0, 124)
	for tick := 0; tick < 124; tick++ {
		pages = append(pages, ant.Decompose(p.Broadcast(Telemetry{PowerWatts: 250, Cadence: 90})).DataPageNumber)
	}
	assert.Equal(t, int(antpage.NumberBatteryStatus), pages[61])
	assert.Equal(t, int(antpage.NumberManufacturerInfo), pages[120])
	assert.Equal(t, int(antpage.NumberProductInfo), pages[121])
	assert.Equal(t, int(antpage.NumberPowerOnly), pages[122])
	for tick, number := range pages {
		if tick == 61 || tick == 120 || tick == 121 {
			continue
		}
		assert.Equal(t, int(antpage.NumberPowerOnly), number, "tick %d", tick)
	}
}

func TestPower_Rollover(t *testing.T) {
	p := NewPower(newTestLogger(), PWRConfig(true, 2))
	p.Initialize()

	total, count := 0, 0
	for tick := 0; tick < 400; tick++ {
		d := ant.Decompose(p.Broadcast(Telemetry{PowerWatts: 5000, Cadence: 300}))
		if d.DataPageNumber != int(antpage.NumberPowerOnly) {
			continue
		}
		total += 0x0FFF
		count++
		page, err := antpage.DecodePowerOnly(d.Payload)
		require.NoError(t, err)
		assert.Equal(t, uint16(0x0FFF), page.InstantaneousPower)
		assert.Equal(t, byte(0xFF), page.Cadence)
		assert.Equal(t, uint16(total&0xFFFF), page.AccumulatedPower)
		assert.Equal(t, byte(count&0xFF), page.EventCount)
	}
}

func TestSpeedCadence(t *testing.T) {
	newSCS := func() *SpeedCadence {
		s := NewSpeedCadence(newTestLogger(), SCSConfig(true, 3))
		s.SetChannel(4)
		s.Initialize()
		return s
	}
	decode := func(t *testing.T, msg []byte) antpage.SpeedCadence {
		p, err := antpage.DecodeSpeedCadence(ant.Decompose(msg).Payload)
		require.NoError(t, err)
		return p
	}

	t.Run("one pedal cycle", func(t *testing.T) {
		s := newSCS()
		p := decode(t, s.Broadcast(Telemetry{PedalEchoCount: 1, Cadence: 60, SpeedKmh: 36}))
		assert.Equal(t, byte(4), p.Channel)
		assert.Equal(t, uint16(1024), p.CadenceEventTime)
		assert.Equal(t, uint16(1), p.CadenceEventCount)
		// 10 m/s over 1 s is 4.77 wheel turns, rounded to 5 turns in 1.048 s
		assert.Equal(t, uint16(5), p.SpeedEventCount)
		assert.Equal(t, uint16(1073), p.SpeedEventTime)
	})

	guards := []struct {
		name string
		tel  Telemetry
	}{
		{"unchanged echo", Telemetry{PedalEchoCount: 1, Cadence: 60, SpeedKmh: 36}},
		{"zero cadence", Telemetry{PedalEchoCount: 2, Cadence: 0, SpeedKmh: 36}},
		{"zero speed", Telemetry{PedalEchoCount: 2, Cadence: 60, SpeedKmh: 0}},
	}
	for _, tt := range guards {
		t.Run(tt.name, func(t *testing.T) {
			s := newSCS()
			first := decode(t, s.Broadcast(Telemetry{PedalEchoCount: 1, Cadence: 60, SpeedKmh: 36}))
			var again antpage.SpeedCadence
			require.NotPanics(t, func() { again = decode(t, s.Broadcast(tt.tel)) })
			assert.Equal(t, first, again)
		})
	}

	t.Run("event counters roll over", func(t *testing.T) {
		s := newSCS()
		var p antpage.SpeedCadence
		for echo := 1; echo <= 70000; echo++ {
			p = decode(t, s.Broadcast(Telemetry{PedalEchoCount: echo, Cadence: 120, SpeedKmh: 40}))
		}
		assert.Equal(t, uint16(70000-0x10000), p.CadenceEventCount)
	})
}

func TestControl(t *testing.T) {
	c := NewControl(newTestLogger(), CTRLConfig(true, 5))
	c.SetChannel(5)
	c.Initialize()

	t.Run("schedule", func(t *testing.T) {
		for tick := 0; tick < 131; tick++ {
			d := ant.Decompose(c.Broadcast(Telemetry{}))
			switch tick {
			case 64:
				assert.Equal(t, int(antpage.NumberManufacturerInfo), d.DataPageNumber)
			case 129:
				assert.Equal(t, int(antpage.NumberProductInfo), d.DataPageNumber)
			default:
				assert.Equal(t, int(antpage.NumberControl), d.DataPageNumber, "tick %d", tick)
				p, err := antpage.DecodeControl(d.Payload)
				require.NoError(t, err)
				assert.Equal(t, antpage.GenericControlOnly, p.DeviceCapabilities)
			}
		}
	})

	t.Run("generic command", func(t *testing.T) {
		var got []ControlEntry
		c.Commands().Listen(func(e ControlEntry) { got = append(got, e) })

		sendAck(t, c, antpage.GenericCommand{Channel: 5, SlaveSerial: 42, ManufacturerID: 255, Sequence: 1, Command: uint16(CommandLap)}.Encode())
		require.Len(t, got, 1)
		assert.Equal(t, CommandLap, got[0].Command)
		assert.Equal(t, "Lap", got[0].Command.String())

		replies := sendAck(t, c, antpage.Request{Channel: 5, RequestedTransmission: 1, RequestedPageNumber: 71, CommandType: antpage.CommandTypeDataPage}.Encode())
		require.Len(t, replies, 1)
		status, err := antpage.DecodeCommandStatus(ant.Decompose(replies[0]).Payload)
		require.NoError(t, err)
		assert.Equal(t, antpage.NumberGenericCommand, status.LastReceivedCommand)
		assert.Equal(t, antpage.StatusPass, status.Status)
	})

	t.Run("bounded log", func(t *testing.T) {
		for i := 0; i < ControlLogSize+10; i++ {
			sendAck(t, c, antpage.GenericCommand{Channel: 5, Sequence: byte(i), Command: uint16(CommandMenuDown)}.Encode())
		}
		entries := c.CommandLog()
		assert.Len(t, entries, ControlLogSize)
		assert.Equal(t, byte(ControlLogSize+9), entries[len(entries)-1].Sequence)
		assert.Equal(t, "Command(99)", ControlCommand(99).String())
	})
}

func TestControl_ListenerCallsBackIntoProfile(t *testing.T) {
	c := NewControl(newTestLogger(), CTRLConfig(true, 5))
	c.SetChannel(5)

	logged := make(chan []ControlEntry, 1)
	c.Commands().Listen(func(ControlEntry) {
		logged <- c.CommandLog()
	})

	msg := ant.AcknowledgedData(antpage.GenericCommand{Channel: 5, Sequence: 7, Command: uint16(CommandLap)}.Encode())
	done := make(chan error, 1)
	go func() {
		_, err := Dispatch(c, ant.Decompose(msg))
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("command listener calling CommandLog never returned")
	}
	entries := <-logged
	require.Len(t, entries, 1)
	assert.Equal(t, CommandLap, entries[0].Command)
	assert.Equal(t, byte(7), entries[0].Sequence)
}
