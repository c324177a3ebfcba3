// Package bridge retransmits data between a master and a slave ANT channel
package bridge

import (
	"errors"
	"fmt"
	"log"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/ant"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/antdev"
)

// Bridge joins one master and one slave interface. Data received on one
// channel is sent again on the other one. The bridge never broadcasts on its own.
type Bridge struct {
	master *endpoint
	slave  *endpoint
}

// New panics unless exactly one of a and b is a master
func New(logger *log.Logger, a, b antdev.Interface) *Bridge {
	if logger == nil {
		panic("Bridge: logger cannot be nil")
	}
	if a.Config().Master == b.Config().Master {
		panic(fmt.Sprintf("Bridge: need one master and one slave, got %s master=%t and %s master=%t",
			a.Config().Name, a.Config().Master, b.Config().Name, b.Config().Master))
	}
	if !a.Config().Master {
		a, b = b, a
	}
	br := &Bridge{
		master: &endpoint{Interface: a, logger: logger},
		slave:  &endpoint{Interface: b, logger: logger},
	}
	br.master.peer = br.slave.Interface
	br.slave.peer = br.master.Interface
	return br
}

// Master is the side to register with the dongle as the master channel
func (b *Bridge) Master() antdev.Interface {
	return b.master
}

// Slave is the side to register with the dongle as the slave channel
func (b *Bridge) Slave() antdev.Interface {
	return b.slave
}

// Retransmit decodes msg, replaces its channel byte and composes it again
func Retransmit(msg []byte, channel byte) []byte {
	d := ant.Decompose(msg)
	return retransmit(d.ID, d.Payload, channel)
}

func retransmit(id ant.MessageID, payload []byte, channel byte) []byte {
	out := append([]byte{}, payload...)
	if len(out) > 0 {
		out[0] = channel
	}
	return ant.Compose(id, out)
}

type endpoint struct {
	antdev.Interface
	peer   antdev.Interface
	logger *log.Logger
}

func (e *endpoint) Broadcast(antdev.Telemetry) []byte {
	return nil
}

// HandleReceived lets the wrapped profile see the message, for pairing and
// logging, drops its replies and returns the retransmission for the peer
func (e *endpoint) HandleReceived(channel int, id ant.MessageID, page int, payload []byte) ([][]byte, error) {
	own := e.Channel()
	if channel != int(own) {
		return nil, &antdev.WrongChannelError{Received: channel, Owned: own}
	}

	_, err := e.Interface.HandleReceived(channel, id, page, payload)
	if err != nil && !errors.Is(err, antdev.ErrUnknownDataPage) {
		e.logger.Printf("Bridge: %s: %v", e.Config().Name, err)
	}

	switch id {
	case ant.MsgBroadcastData, ant.MsgAcknowledgedData:
		return [][]byte{retransmit(id, payload, e.peer.Channel())}, nil
	default:
		return nil, nil
	}
}
