// Package antpage holds the fixed 9 byte ANT+ data page records.
// Byte 0 is always the channel, byte 1 the page number (except for the
// speed/cadence page, which has none). Multi-byte fields are little-endian.
// Encoding never range-checks values, clamping is left to the profiles.
package antpage

import (
	"errors"
	"fmt"
)

// Size of every encoded page, channel byte included
const Size = 9

// Page numbers
const (
	NumberControl           byte = 2
	NumberGeneralFE         byte = 16
	NumberPowerOnly         byte = 16
	NumberSpecificTrainer   byte = 25
	NumberBasicResistance   byte = 48
	NumberTargetPower       byte = 49
	NumberWindResistance    byte = 50
	NumberTrackResistance   byte = 51
	NumberFECapabilities    byte = 54
	NumberUserConfiguration byte = 55
	NumberRequest           byte = 70
	NumberCommandStatus     byte = 71
	NumberGenericCommand    byte = 73
	NumberManufacturerInfo  byte = 80
	NumberProductInfo       byte = 81
	NumberBatteryStatus     byte = 82
	NumberCompliance        byte = 252

	NumberHRMDefault      byte = 0
	NumberHRMManufacturer byte = 2
	NumberHRMProduct      byte = 3
)

var (
	ErrShortPage       = errors.New("antpage: page too short")
	ErrWrongPageNumber = errors.New("antpage: wrong page number")
)

// Number returns the page number of an encoded page, or -1 when it is missing
func Number(b []byte) int {
	if len(b) < 2 {
		return -1
	}
	return int(b[1])
}

func check(b []byte, number byte) error {
	if len(b) < Size {
		return fmt.Errorf("page %d: got %d bytes: %w", number, len(b), ErrShortPage)
	}
	if b[1] != number {
		return fmt.Errorf("expected page %d, got %d: %w", number, b[1], ErrWrongPageNumber)
	}
	return nil
}

func newPage(channel, number byte) []byte {
	b := make([]byte, Size)
	b[0] = channel
	b[1] = number
	return b
}
