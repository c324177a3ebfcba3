package dongle

import (
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/ant"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/antdev"
)

func newTestLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.ResetDelay = 0
	opts.ReplyReads = 3
	return opts
}

func newOpenManager(t *testing.T, maxChannels byte) (*Manager, *Emulator) {
	t.Helper()
	emu := NewEmulator("Dynastream Innovations", maxChannels, 5*time.Millisecond)
	finder := &EmulatorFinder{Products: map[uint16][]*Emulator{ProductGarmin: {emu}}}
	m := NewManager(newTestLogger(), finder, testOptions())
	require.NoError(t, m.Open())
	return m, emu
}

func messageIDs(msgs [][]byte) []ant.MessageID {
	ids := make([]ant.MessageID, 0, len(msgs))
	for _, msg := range msgs {
		ids = append(ids, ant.Decompose(msg).ID)
	}
	return ids
}

func TestNewManager_NilLoggerPanics(t *testing.T) {
	assert.PanicsWithValue(t, "Dongle: logger cannot be nil", func() {
		NewManager(nil, &EmulatorFinder{}, DefaultOptions())
	})
}

func TestManager_OpenCalibrates(t *testing.T) {
	m, emu := newOpenManager(t, 8)

	assert.Equal(t, byte(8), m.Capabilities().MaxChannels)
	assert.Equal(t, byte(8), m.Capabilities().MaxNetworks)
	assert.Equal(t, "EMU1.00", m.Version())
	assert.Equal(t, ant.CommandReset, m.LastReset())
	assert.True(t, m.ResetAllowed())

	assert.Equal(t, []ant.MessageID{ant.MsgResetSystem, ant.MsgRequestMessage, ant.MsgRequestMessage},
		messageIDs(emu.Written()))
}

func TestManager_OpenSkipsSilentDevices(t *testing.T) {
	silent := NewEmulator("Some Mouse", 8, time.Millisecond)
	silent.Silence()
	good := NewEmulator("Dynastream", 4, time.Millisecond)
	finder := &EmulatorFinder{Products: map[uint16][]*Emulator{
		ProductSuunto: {silent},
		ProductOlder:  {good},
	}}

	m := NewManager(newTestLogger(), finder, testOptions())
	require.NoError(t, m.Open())
	assert.True(t, silent.Closed())
	assert.False(t, good.Closed())
	assert.Equal(t, byte(4), m.Capabilities().MaxChannels)

	// the startup reply was awaited 1 + StartupRetries times
	assert.Len(t, silent.Written(), 1)
}

func TestManager_OpenNotFound(t *testing.T) {
	m := NewManager(newTestLogger(), &EmulatorFinder{}, testOptions())
	err := m.Open()
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.ConfigureChannel(antdev.NewGeneric(newTestLogger(), antdev.FEConfig(false, 0)))
	assert.ErrorIs(t, err, ErrNoDongle)
	assert.ErrorIs(t, m.Write(ant.ResetSystem()), ErrNoDongle)
	_, err = m.ReadMessages()
	assert.ErrorIs(t, err, ErrNoDongle)
	assert.NoError(t, m.Release())
}

func TestManager_CycplusSkipsReset(t *testing.T) {
	emu := NewEmulator("CYCPLUS", 8, time.Millisecond)
	finder := &EmulatorFinder{Products: map[uint16][]*Emulator{ProductGarmin: {emu}}}
	m := NewManager(newTestLogger(), finder, testOptions())
	require.NoError(t, m.Open())
	assert.False(t, m.ResetAllowed())

	require.NoError(t, m.Release())
	for _, id := range messageIDs(emu.Written()) {
		assert.NotEqual(t, ant.MsgResetSystem, id)
	}
}

func TestManager_ConfigureChannel(t *testing.T) {
	m, emu := newOpenManager(t, 8)
	before := len(emu.Written())

	fe := antdev.NewFitnessEquipment(newTestLogger(), antdev.FEConfig(true, 4711), antdev.DefaultFEOptions())
	hrm := antdev.NewHeartRateMonitor(newTestLogger(), antdev.HRMConfig(true, 4712))

	ch, err := m.ConfigureChannel(fe)
	require.NoError(t, err)
	assert.Equal(t, byte(0), ch)
	assert.Equal(t, byte(0), fe.Channel())

	ch, err = m.ConfigureChannel(hrm)
	require.NoError(t, err)
	assert.Equal(t, byte(1), ch)
	assert.Equal(t, byte(1), hrm.Channel())
	assert.Same(t, hrm, m.Interface(1))

	// network key only once
	assert.Equal(t, []ant.MessageID{
		ant.MsgSetNetworkKey,
		ant.MsgAssignChannel, ant.MsgChannelID, ant.MsgChannelPeriod, ant.MsgChannelSearchTimeout,
		ant.MsgChannelRfFrequency, ant.MsgChannelTransmitPower, ant.MsgOpenChannel,
		ant.MsgAssignChannel, ant.MsgChannelID, ant.MsgChannelPeriod, ant.MsgChannelSearchTimeout,
		ant.MsgChannelRfFrequency, ant.MsgChannelTransmitPower, ant.MsgOpenChannel,
	}, messageIDs(emu.Written()[before:]))

	assert.Equal(t, uint16(4711), emu.DeviceNumber(0))
	assert.Equal(t, uint16(4712), emu.DeviceNumber(1))

	assign := ant.Decompose(emu.Written()[before+1])
	assert.Equal(t, []byte{0, ant.ChannelTypeBidirectionalTransmit, 0}, assign.Payload)
}

func TestManager_NoMoreChannels(t *testing.T) {
	m, _ := newOpenManager(t, 2)

	for i := 0; i < 2; i++ {
		_, err := m.ConfigureChannel(antdev.NewGeneric(newTestLogger(), antdev.FEConfig(false, 0)))
		require.NoError(t, err)
	}
	_, err := m.ConfigureChannel(antdev.NewGeneric(newTestLogger(), antdev.FEConfig(false, 0)))
	assert.ErrorIs(t, err, ErrNoMoreChannels)

	require.NoError(t, m.ReleaseChannel(0))
	ch, err := m.ConfigureChannel(antdev.NewGeneric(newTestLogger(), antdev.FEConfig(false, 0)))
	require.NoError(t, err)
	assert.Equal(t, byte(0), ch)
}

func TestManager_ChannelRejected(t *testing.T) {
	m, emu := newOpenManager(t, 8)
	emu.Reject(ant.MsgChannelPeriod, 0x15)

	_, err := m.ConfigureChannel(antdev.NewPower(newTestLogger(), antdev.PWRConfig(true, 1)))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChannelRejected)

	var rejected *ChannelResponseError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, ant.MsgChannelPeriod, rejected.Command)
	assert.Equal(t, byte(0x15), rejected.Code)

	// the slot stays free and the channel was unassigned
	assert.Nil(t, m.Interface(0))
	written := messageIDs(emu.Written())
	assert.Equal(t, ant.MsgUnassignChannel, written[len(written)-1])
}

func TestManager_BacklogKeepsTrafficReceivedDuringConfiguration(t *testing.T) {
	m, emu := newOpenManager(t, 8)

	broadcast := ant.BroadcastData([]byte{0, 0x10, 1, 2, 3, 4, 5, 6, 7})
	emu.Inject(broadcast)

	_, err := m.ConfigureChannel(antdev.NewGeneric(newTestLogger(), antdev.FEConfig(false, 0)))
	require.NoError(t, err)

	msgs, err := m.ReadMessages()
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	assert.Equal(t, broadcast, msgs[0])
}

func TestManager_ReadMessagesSplitsReads(t *testing.T) {
	m, emu := newOpenManager(t, 8)
	a := ant.BroadcastData([]byte{0, 0x10, 0, 0, 0, 0, 0, 0, 0})
	b := ant.AcknowledgedData([]byte{0, 0x31, 0, 0, 0, 0, 0, 0x20, 0x03})
	emu.Inject(a)
	emu.Inject(b)

	msgs, err := m.ReadMessages()
	require.NoError(t, err)
	assert.Equal(t, [][]byte{a, b}, msgs)

	msgs, err = m.ReadMessages()
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestManager_ReleaseResetsBeforeClose(t *testing.T) {
	m, emu := newOpenManager(t, 8)
	_, err := m.ConfigureChannel(antdev.NewGeneric(newTestLogger(), antdev.FEConfig(false, 0)))
	require.NoError(t, err)

	require.NoError(t, m.Release())
	assert.True(t, emu.Closed())
	written := messageIDs(emu.Written())
	assert.Equal(t, ant.MsgResetSystem, written[len(written)-1])

	assert.ErrorIs(t, m.Write(ant.ResetSystem()), ErrNoDongle)
	assert.NoError(t, m.Release())
}

func TestManager_TransportErrorsAreTyped(t *testing.T) {
	m, emu := newOpenManager(t, 8)
	require.NoError(t, emu.Close())

	err := m.Write(ant.ResetSystem())
	var terr *TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "write", terr.Op)
	assert.ErrorIs(t, err, ErrEmulatorClosed)

	_, err = m.ReadMessages()
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "read", terr.Op)
}
