package bridge

import (
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/ant"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/antdev"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/antpage"
)

func newTestLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newBushidoBridge(t *testing.T) (*Bridge, *antdev.Generic, *antdev.Generic) {
	t.Helper()
	headUnit := antdev.NewGeneric(newTestLogger(), antdev.BushidoHeadUnitConfig(true, 1))
	brake := antdev.NewGeneric(newTestLogger(), antdev.BushidoBrakeConfig(false, 0))
	b := New(newTestLogger(), brake, headUnit)
	b.Master().SetChannel(3)
	b.Slave().SetChannel(5)
	return b, headUnit, brake
}

// sameExceptChannel checks that out is msg with only the channel byte and checksum changed
func sameExceptChannel(t *testing.T, msg, out []byte, channel byte) {
	t.Helper()
	require.Len(t, out, len(msg))
	in := ant.Decompose(msg)
	got := ant.Decompose(out)
	assert.True(t, got.ChecksumValid())
	assert.Equal(t, in.ID, got.ID)
	assert.Equal(t, int(channel), got.Channel)
	assert.Equal(t, in.Payload[1:], got.Payload[1:])
	assert.Equal(t, msg[:headerLen], out[:headerLen])
}

const headerLen = 3

func TestNew_RolesAreChecked(t *testing.T) {
	master := antdev.NewGeneric(newTestLogger(), antdev.FEConfig(true, 1))
	slave := antdev.NewGeneric(newTestLogger(), antdev.FEConfig(false, 0))

	assert.Panics(t, func() { New(newTestLogger(), master, master) })
	assert.Panics(t, func() { New(newTestLogger(), slave, slave) })
	assert.PanicsWithValue(t, "Bridge: logger cannot be nil", func() { New(nil, master, slave) })

	b := New(newTestLogger(), slave, master)
	assert.True(t, b.Master().Config().Master)
	assert.False(t, b.Slave().Config().Master)
}

func TestBridge_NeverBroadcasts(t *testing.T) {
	b, _, _ := newBushidoBridge(t)
	tel := antdev.Telemetry{PowerWatts: 200, Cadence: 90, SpeedKmh: 30}
	for i := 0; i < 10; i++ {
		assert.Nil(t, b.Master().Broadcast(tel))
		assert.Nil(t, b.Slave().Broadcast(tel))
	}
}

func TestBridge_Fidelity(t *testing.T) {
	b, headUnit, brake := newBushidoBridge(t)

	t.Run("slave to master", func(t *testing.T) {
		msg := ant.BroadcastData([]byte{5, 0x01, 0x10, 0x20, 0x30, 0x40, 0x50, 0x60, 0x70})
		out, err := antdev.Dispatch(b.Slave(), ant.Decompose(msg))
		require.NoError(t, err)
		require.Len(t, out, 1)
		sameExceptChannel(t, msg, out[0], 3)
		assert.Equal(t, 1, brake.Received())
	})

	t.Run("master to slave", func(t *testing.T) {
		msg := ant.AcknowledgedData([]byte{3, 0xAC, 0x03, 0x02, 0x01, 0x00, 0xFF, 0xFE, 0xFD})
		out, err := antdev.Dispatch(b.Master(), ant.Decompose(msg))
		require.NoError(t, err)
		require.Len(t, out, 1)
		sameExceptChannel(t, msg, out[0], 5)
		assert.Equal(t, 1, headUnit.Received())
	})
}

func TestBridge_ForwardsPagesTheProfileDoesNotKnow(t *testing.T) {
	fe := antdev.NewFitnessEquipment(newTestLogger(), antdev.FEConfig(false, 0), antdev.DefaultFEOptions())
	display := antdev.NewGeneric(newTestLogger(), antdev.FEConfig(true, 7))
	b := New(newTestLogger(), fe, display)
	b.Slave().SetChannel(0)
	b.Master().SetChannel(1)

	page := antpage.GeneralFE{Channel: 0, ElapsedTime: 8, Distance: 100, Speed: 8333, HeartRate: 140}.Encode()
	msg := ant.BroadcastData(page)
	out, err := antdev.Dispatch(b.Slave(), ant.Decompose(msg))
	require.NoError(t, err)
	require.Len(t, out, 1)
	sameExceptChannel(t, msg, out[0], 1)
}

func TestBridge_OtherMessages(t *testing.T) {
	b, _, brake := newBushidoBridge(t)

	out, err := antdev.Dispatch(b.Slave(), ant.Decompose(ant.SetChannelID(5, 999, antdev.DeviceTypeBushidoBrake, 1)))
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.True(t, brake.Paired())
	assert.True(t, b.Slave().Paired())

	_, err = antdev.Dispatch(b.Slave(), ant.Decompose(ant.BroadcastData([]byte{3, 1, 0, 0, 0, 0, 0, 0, 0})))
	assert.ErrorIs(t, err, antdev.ErrWrongChannel)
}

func TestRetransmit(t *testing.T) {
	msg := ant.BroadcastData([]byte{0, 0x10, 0x19, 1, 2, 3, 4, 5, 0x33})
	out := Retransmit(msg, 4)
	sameExceptChannel(t, msg, out, 4)
	assert.Equal(t, msg, Retransmit(out, 0))
}
