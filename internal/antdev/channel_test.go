package antdev

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/ant"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/antpage"
)

func TestHandleReceived_Errors(t *testing.T) {
	fe, _ := newTestFE(t, DefaultFEOptions())

	t.Run("wrong channel", func(t *testing.T) {
		_, err := fe.HandleReceived(3, ant.MsgBroadcastData, 49, antpage.TargetPower{Channel: 3}.Encode())
		var wrong *WrongChannelError
		require.True(t, errors.As(err, &wrong))
		assert.Equal(t, 3, wrong.Received)
		assert.ErrorIs(t, err, ErrWrongChannel)
	})

	t.Run("unknown message id", func(t *testing.T) {
		_, err := fe.HandleReceived(0, ant.MsgStartUp, ant.NoPage, []byte{0})
		var unknown *UnknownMessageIDError
		require.True(t, errors.As(err, &unknown))
		assert.Equal(t, ant.MsgStartUp, unknown.ID)
	})

	t.Run("unknown data page", func(t *testing.T) {
		page := make([]byte, antpage.Size)
		page[1] = 0x77
		_, err := Dispatch(fe, ant.Decompose(ant.BroadcastData(page)))
		var unknown *UnknownDataPageError
		require.True(t, errors.As(err, &unknown))
		assert.Equal(t, 0x77, unknown.Page)
		assert.ErrorIs(t, err, ErrUnknownDataPage)
	})

	t.Run("missing page number", func(t *testing.T) {
		_, err := Dispatch(fe, ant.Decompose(ant.BroadcastData([]byte{0})))
		assert.ErrorIs(t, err, ErrUnknownDataPage)
	})

	t.Run("burst and channel response are accepted", func(t *testing.T) {
		replies, err := Dispatch(fe, ant.Decompose(ant.Compose(ant.MsgBurstData, []byte{0x20, 1, 2, 3, 4, 5, 6, 7, 8})))
		assert.NoError(t, err)
		assert.Empty(t, replies)

		_, err = Dispatch(fe, ant.Decompose(ant.Compose(ant.MsgChannelResponse, []byte{0, byte(ant.MsgOpenChannel), 0})))
		assert.NoError(t, err)
	})
}

func TestPairing(t *testing.T) {
	g := NewGeneric(newTestLogger(), HRMConfig(false, 0))
	g.SetChannel(2)
	assert.False(t, g.Paired())

	// device number 0 means nothing paired yet
	_, err := Dispatch(g, ant.Decompose(ant.SetChannelID(2, 0, DeviceTypeHRM, 1)))
	require.NoError(t, err)
	assert.False(t, g.Paired())

	// other device type
	_, err = Dispatch(g, ant.Decompose(ant.SetChannelID(2, 1234, DeviceTypePWR, 1)))
	require.NoError(t, err)
	assert.False(t, g.Paired())

	_, err = Dispatch(g, ant.Decompose(ant.SetChannelID(2, 1234, DeviceTypeHRM, 1)))
	require.NoError(t, err)
	assert.True(t, g.Paired())
	id, ok := g.PairedWith()
	assert.True(t, ok)
	assert.Equal(t, uint16(1234), id.DeviceNumber)
	assert.Equal(t, DeviceTypeHRM, id.DeviceTypeID)

	// search timeout drops the pairing
	_, err = Dispatch(g, ant.Decompose(ant.Compose(ant.MsgChannelResponse, []byte{2, byte(ant.MsgRFEvent), ant.EventRxSearchTimeout})))
	require.NoError(t, err)
	assert.False(t, g.Paired())
}

func TestGeneric(t *testing.T) {
	g := NewGeneric(newTestLogger(), BushidoBrakeConfig(false, 0))
	g.SetChannel(1)
	assert.Nil(t, g.Broadcast(Telemetry{PowerWatts: 100}))

	for _, number := range []byte{0, 16, 0xAD, 0xFF} {
		page := make([]byte, antpage.Size)
		page[0] = 1
		page[1] = number
		replies, err := Dispatch(g, ant.Decompose(ant.BroadcastData(page)))
		require.NoError(t, err)
		assert.Empty(t, replies)
	}
	assert.Equal(t, 4, g.Received())

	cfg := g.Config()
	assert.Equal(t, byte(60), cfg.RfFrequency)
	assert.Equal(t, uint16(4096), cfg.Period)
	assert.Equal(t, InfiniteSearchTimeout, cfg.SearchTimeout)
	assert.Equal(t, DeviceTypeBushidoBrake, cfg.DeviceTypeID)
	assert.Equal(t, ant.ChannelTypeBidirectionalReceive, cfg.ChannelType)

	g.Initialize()
	assert.Equal(t, 0, g.Received())
}

func TestChannelConfigPresets(t *testing.T) {
	master := FEConfig(true, 57)
	assert.Equal(t, ant.ChannelTypeBidirectionalTransmit, master.ChannelType)
	assert.Equal(t, TransmissionIndependent, master.TransmissionType)
	assert.Equal(t, uint16(57), master.DeviceNumber)
	assert.Equal(t, ANTPlusFrequency, master.RfFrequency)
	assert.Equal(t, ant.DefaultNetworkKey, master.NetworkKey)

	slave := HRMConfig(false, 0)
	assert.Equal(t, ant.ChannelTypeBidirectionalReceive, slave.ChannelType)
	assert.Equal(t, TransmissionPairing, slave.TransmissionType)
}

func TestPairing_PairingBitIgnored(t *testing.T) {
	g := NewGeneric(newTestLogger(), FEConfig(false, 0))
	g.SetChannel(0)

	_, err := Dispatch(g, ant.Decompose(ant.SetChannelID(0, 4321, DeviceTypeFE|0x80, 5)))
	require.NoError(t, err)
	assert.True(t, g.Paired())

	id, ok := g.PairedWith()
	require.True(t, ok)
	assert.Equal(t, uint16(4321), id.DeviceNumber)
	assert.Equal(t, DeviceTypeFE, id.DeviceTypeID)
	assert.Equal(t, byte(5), id.TransmissionType)
}

func TestExploreConfigs(t *testing.T) {
	configs := ExploreConfigs()
	require.Len(t, configs, 5)
	for _, cfg := range configs {
		assert.False(t, cfg.Master, cfg.Name)
		assert.Zero(t, cfg.DeviceNumber, cfg.Name)
		assert.Equal(t, TransmissionPairing, cfg.TransmissionType, cfg.Name)
	}
	assert.Equal(t, DeviceTypeVortex, configs[3].DeviceTypeID)
	assert.Equal(t, byte(66), configs[3].RfFrequency)
	assert.Equal(t, DeviceTypeVortexHeadUnit, configs[4].DeviceTypeID)
}
