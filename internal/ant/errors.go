package ant

import (
	"errors"
	"fmt"
)

var (
	ErrWrongMessageID = errors.New("ant: unexpected message id")
	ErrShortMessage   = errors.New("ant: message too short")
)

// WrongMessageIDError is returned by reply parsers handed the wrong message type
type WrongMessageIDError struct {
	Received MessageID
	Expected MessageID
}

func (e *WrongMessageIDError) Error() string {
	return fmt.Sprintf("ant: expected %s (0x%02X), received %s (0x%02X)",
		e.Expected, byte(e.Expected), e.Received, byte(e.Received))
}

func (e *WrongMessageIDError) Unwrap() error { return ErrWrongMessageID }
