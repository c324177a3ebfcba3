package trainer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/ant"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/antdev"
)

func countWritten(written [][]byte, id ant.MessageID) int {
	n := 0
	for _, msg := range written {
		if ant.Decompose(msg).ID == id {
			n++
		}
	}
	return n
}

func TestNewExplorer_Panics(t *testing.T) {
	m, _ := newTestManager(t)
	assert.PanicsWithValue(t, "Explorer: logger cannot be nil", func() {
		NewExplorer(nil, m)
	})
	assert.PanicsWithValue(t, "Explorer: manager cannot be nil", func() {
		NewExplorer(newTestLogger(), nil)
	})
	assert.PanicsWithValue(t, "Explorer: FE must be a slave channel", func() {
		NewExplorer(newTestLogger(), m).AddChannel(antdev.FEConfig(true, 1))
	})
}

func TestExplorer_ReportsPairedMasters(t *testing.T) {
	m, emu := newTestManager(t)
	x := NewExplorer(newTestLogger(), m)
	for _, cfg := range antdev.ExploreConfigs() {
		x.AddChannel(cfg)
	}
	found := make(chan Discovery, 4)
	defer x.Found().Listen(found)()

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- x.Run(ctx) }()

	require.Eventually(t, func() bool {
		return countWritten(emu.Written(), ant.MsgOpenChannel) == len(antdev.ExploreConfigs())
	}, time.Second, testTick)
	for ch := byte(0); ch < 5; ch++ {
		assert.Zero(t, emu.DeviceNumber(ch), "channel %d", ch)
	}

	// a heart rate strap without a paired id yet: requested, nothing reported
	emu.Inject(ant.BroadcastData([]byte{0, 0x04, 0, 0, 0, 0, 0, 0, 70}))
	require.Eventually(t, func() bool {
		return countWritten(emu.Written(), ant.MsgRequestMessage) == 1
	}, time.Second, testTick)

	// a trainer on the FE channel
	emu.Pair(1, 4321, antdev.DeviceTypeFE, antdev.TransmissionIndependent)
	emu.Inject(ant.BroadcastData([]byte{1, 0x10, 25, 0, 0, 0, 0, 0, 0}))

	select {
	case d := <-found:
		assert.Equal(t, "FE", d.Profile)
		assert.Equal(t, byte(1), d.Channel)
		assert.Equal(t, uint16(4321), d.DeviceNumber)
		assert.Equal(t, antdev.DeviceTypeFE, d.DeviceTypeID)
		assert.Contains(t, d.String(), "FE device 4321")
	case <-time.After(time.Second):
		t.Fatal("paired trainer not reported")
	}

	// once paired, more data does not request the id again
	requests := countWritten(emu.Written(), ant.MsgRequestMessage)
	emu.Inject(ant.BroadcastData([]byte{1, 0x10, 25, 0, 0, 0, 0, 0, 0}))
	emu.Inject(ant.Compose(ant.MsgChannelID, []byte{1, 0xE1, 0x10, antdev.DeviceTypeFE, antdev.TransmissionIndependent}))

	cancel()
	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("explorer did not stop")
	}

	assert.Equal(t, requests, countWritten(emu.Written(), ant.MsgRequestMessage))
	discoveries := x.Discoveries()
	require.Len(t, discoveries, 1)
	assert.Equal(t, uint16(4321), discoveries[0].DeviceNumber)
	for ch := byte(0); ch < 5; ch++ {
		assert.Nil(t, m.Interface(ch), "channel %d", ch)
	}
	require.NoError(t, m.Release())
}

func TestExplorer_ShouldRequestSpacing(t *testing.T) {
	m, _ := newTestManager(t)
	x := NewExplorer(newTestLogger(), m)
	clock := &fakeClock{t: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
	x.now = clock.now

	assert.True(t, x.shouldRequest(2))
	assert.False(t, x.shouldRequest(2))
	assert.True(t, x.shouldRequest(3))
	clock.advance(channelIDRetry)
	assert.True(t, x.shouldRequest(2))
}
