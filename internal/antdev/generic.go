package antdev

import (
	"log"
)

// Generic is a passive channel: it never broadcasts on its own and accepts
// any data page. It is the endpoint type used for bridging, for instance
// with the Tacx Bushido presets.
type Generic struct {
	*base
	received int
}

// NewGeneric accepts every page number on cfg
func NewGeneric(logger *log.Logger, cfg ChannelConfig) *Generic {
	g := &Generic{base: newBase(logger, cfg, 0)}
	for number := 0; number <= 0xFF; number++ {
		g.handlePage(byte(number), g.count)
	}
	return g
}

func (g *Generic) count([]byte) ([][]byte, error) {
	g.received++
	return nil, nil
}

// Received is the number of data pages seen on the channel
func (g *Generic) Received() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.received
}

// Initialize forgets the pages counted before the channel was (re)opened
func (g *Generic) Initialize() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetInterleave()
	g.received = 0
}

// Broadcast never sends anything, masters bridged through a Generic get
// their pages from the bridge
func (g *Generic) Broadcast(Telemetry) []byte {
	return nil
}
