package dongle

import (
	"errors"
	"fmt"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/ant"
)

var (
	ErrNoDongle        = errors.New("dongle: no ANT dongle bound")
	ErrNoMoreChannels  = errors.New("dongle: no free channel")
	ErrNotFound        = errors.New("dongle: no ANT dongle found")
	ErrChannelRejected = errors.New("dongle: command rejected")
	ErrNoReply         = errors.New("dongle: no reply")
)

// ChannelResponseError is returned when the dongle answers a configuration
// command with something other than RESPONSE_NO_ERROR
type ChannelResponseError struct {
	Channel byte
	Command ant.MessageID
	Code    byte
}

func (e *ChannelResponseError) Error() string {
	return fmt.Sprintf("dongle: %s on channel %d rejected with code 0x%02X", e.Command, e.Channel, e.Code)
}

func (e *ChannelResponseError) Unwrap() error { return ErrChannelRejected }

// TransportError wraps every failure of the USB transport
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("dongle: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
