package antdev

import (
	"errors"
	"fmt"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/ant"
)

var (
	ErrWrongChannel     = errors.New("antdev: message for another channel")
	ErrUnknownMessageID = errors.New("antdev: unknown message id")
	ErrUnknownDataPage  = errors.New("antdev: unknown data page")
	ErrUnsupportedPage  = errors.New("antdev: unsupported page request")
)

type WrongChannelError struct {
	Received int
	Owned    byte
}

func (e *WrongChannelError) Error() string {
	return fmt.Sprintf("antdev: message for channel %d handled by channel %d", e.Received, e.Owned)
}

func (e *WrongChannelError) Unwrap() error { return ErrWrongChannel }

type UnknownMessageIDError struct {
	ID ant.MessageID
}

func (e *UnknownMessageIDError) Error() string {
	return fmt.Sprintf("antdev: unknown message id 0x%02X (%s)", byte(e.ID), e.ID)
}

func (e *UnknownMessageIDError) Unwrap() error { return ErrUnknownMessageID }

type UnknownDataPageError struct {
	Page int
}

func (e *UnknownDataPageError) Error() string {
	return fmt.Sprintf("antdev: unknown data page %d", e.Page)
}

func (e *UnknownDataPageError) Unwrap() error { return ErrUnknownDataPage }

// UnsupportedPageError is returned when a page 70 request asks for a page the profile does not provide
type UnsupportedPageError struct {
	Page int
}

func (e *UnsupportedPageError) Error() string {
	return fmt.Sprintf("antdev: request for unsupported page %d", e.Page)
}

func (e *UnsupportedPageError) Unwrap() error { return ErrUnsupportedPage }
