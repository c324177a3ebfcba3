// Package usbant is the gousb transport behind dongle.Manager
package usbant

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/gousb"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/dongle"
)

// VendorDynastream is the USB vendor id of ANT sticks
const VendorDynastream gousb.ID = 0x0FCF

// Finder opens ANT sticks through libusb
type Finder struct {
	ctx         *gousb.Context
	logger      *log.Logger
	readTimeout time.Duration
}

var _ dongle.Finder = (*Finder)(nil)

func NewFinder(logger *log.Logger, readTimeout time.Duration) *Finder {
	if logger == nil {
		panic("USB: logger cannot be nil")
	}
	return &Finder{
		ctx:         gousb.NewContext(),
		logger:      logger,
		readTimeout: readTimeout,
	}
}

// Find opens every Dynastream device with productID. Devices that cannot be
// claimed are logged and skipped.
func (f *Finder) Find(productID uint16) ([]dongle.Transport, error) {
	devs, err := f.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == VendorDynastream && desc.Product == gousb.ID(productID)
	})
	if err != nil && len(devs) == 0 {
		return nil, fmt.Errorf("usb: open %s:%s: %w", VendorDynastream, gousb.ID(productID), err)
	}

	var out []dongle.Transport
	for _, dev := range devs {
		t, err := f.claim(dev)
		if err != nil {
			f.logger.Printf("USB: %s: %v", dev, err)
			_ = dev.Close()
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (f *Finder) claim(dev *gousb.Device) (*Transport, error) {
	if err := dev.SetAutoDetach(true); err != nil {
		return nil, fmt.Errorf("auto detach: %w", err)
	}
	intf, done, err := dev.DefaultInterface()
	if err != nil {
		return nil, fmt.Errorf("default interface: %w", err)
	}
	out, err := intf.OutEndpoint(int(dongle.EndpointOut & 0x0F))
	if err != nil {
		done()
		return nil, fmt.Errorf("out endpoint: %w", err)
	}
	in, err := intf.InEndpoint(int(dongle.EndpointIn & 0x0F))
	if err != nil {
		done()
		return nil, fmt.Errorf("in endpoint: %w", err)
	}
	manufacturer, err := dev.Manufacturer()
	if err != nil {
		manufacturer = ""
	}
	return &Transport{
		dev:          dev,
		done:         done,
		out:          out,
		in:           in,
		manufacturer: manufacturer,
		readTimeout:  f.readTimeout,
	}, nil
}

// Close releases the libusb context once every transport is closed
func (f *Finder) Close() error {
	return f.ctx.Close()
}

// Transport is one claimed ANT stick
type Transport struct {
	dev          *gousb.Device
	done         func()
	out          *gousb.OutEndpoint
	in           *gousb.InEndpoint
	manufacturer string
	readTimeout  time.Duration
}

var _ dongle.Transport = (*Transport)(nil)

func (t *Transport) Write(endpoint byte, b []byte) (int, error) {
	if endpoint != dongle.EndpointOut {
		return 0, fmt.Errorf("usb: no out endpoint 0x%02X", endpoint)
	}
	return t.out.Write(b)
}

// Read waits up to the read timeout. A timeout is not an error, it returns no bytes.
func (t *Transport) Read(endpoint byte, n int) ([]byte, error) {
	if endpoint != dongle.EndpointIn {
		return nil, fmt.Errorf("usb: no in endpoint 0x%02X", endpoint)
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.readTimeout)
	defer cancel()

	buf := make([]byte, n)
	read, err := t.in.ReadContext(ctx, buf)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, gousb.ErrorTimeout) || errors.Is(err, gousb.TransferTimedOut) {
			return buf[:read], nil
		}
		return nil, err
	}
	return buf[:read], nil
}

func (t *Transport) Manufacturer() string {
	return t.manufacturer
}

func (t *Transport) Close() error {
	t.done()
	return t.dev.Close()
}
