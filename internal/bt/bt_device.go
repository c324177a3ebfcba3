package bt

import (
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/ftms"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/safe_map"
)

var ErrNotConnected = errors.New("no connected device")

// BTDevice is a connected GATT server, as seen by the FTMS client
type BTDevice interface {
	GetAddressString() string
	GetLocalName() string
	HasServiceUUID(uuid string) bool
	EnableNotifications(serviceUuid string, characteristicUuid string, callbackFunc func(buf []byte)) error
	DisableNotifications(serviceUuid string, characteristicUuid string) error
	ReadCharacteristic(serviceUuid string, characteristicUuid string) ([]byte, error)
	WriteCharacteristic(serviceUuid string, characteristicUuid string, data []byte) error
	Disconnect() error
}

// Verify btDeviceImpl implements BTDevice
var _ BTDevice = (*btDeviceImpl)(nil)

// Candidate is a device seen while scanning
type Candidate struct {
	Address string
	Name    string
	// FTMS is set when the advertisement lists the Fitness Machine Service
	FTMS   bool
	result bluetooth.ScanResult
}

// IsFTMSCandidate decides from the advertisement whether a device is worth
// connecting to. Watches never are; servers that do not advertise their
// services are, when their name looks like a bridge or a trainer.
func IsFTMSCandidate(name string, advertisesFTMS bool) bool {
	if advertisesFTMS {
		return true
	}
	if strings.Contains(name, "Forerunner") || strings.Contains(name, "Garmin") {
		return false
	}
	return name == "" ||
		strings.Contains(name, "FortiusANT") ||
		strings.Contains(name, "ANT Bridge") ||
		strings.HasPrefix(name, "LT-")
}

// SelectCandidate picks the device matching want (an address or a local
// name), or the first one advertising FTMS when want is empty
func SelectCandidate(candidates []Candidate, want string) (Candidate, error) {
	if want != "" {
		i := slices.IndexFunc(candidates, func(c Candidate) bool { return c.Address == want || c.Name == want })
		if i < 0 {
			return Candidate{}, fmt.Errorf("%w: %q not seen", ErrNoFTMSDevice, want)
		}
		return candidates[i], nil
	}
	if i := slices.IndexFunc(candidates, func(c Candidate) bool { return c.FTMS }); i >= 0 {
		return candidates[i], nil
	}
	if len(candidates) == 0 {
		return Candidate{}, ErrNoFTMSDevice
	}
	return candidates[0], nil
}

// ScanFTMS scans for timeout and returns the FTMS candidates in the order
// they were first seen
func ScanFTMS(adapter *bluetooth.Adapter, logger *log.Logger, timeout time.Duration) ([]Candidate, error) {
	ftmsUUID, err := bluetooth.ParseUUID(ftms.ServiceUUIDFTMS)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	var candidates []Candidate
	seen := safe_map.NewSafeMap[string, bool]()

	stop := time.AfterFunc(timeout, func() {
		if err := adapter.StopScan(); err != nil {
			logger.Printf("BTDevice: stop scan: %v", err)
		}
	})
	defer stop.Stop()

	logger.Printf("BTDevice: scanning for %s", timeout)
	err = adapter.Scan(func(adapter *bluetooth.Adapter, device bluetooth.ScanResult) {
		address := device.Address.String()
		if _, ok := seen.LoadOrStore(address, true); ok {
			return
		}
		name := device.LocalName()
		hasFTMS := device.HasServiceUUID(ftmsUUID)
		if !IsFTMSCandidate(name, hasFTMS) {
			logger.Printf("BTDevice: skipping %s (%s)", name, address)
			return
		}
		logger.Printf("BTDevice: found %s (%s) [RSSI: %d, FTMS: %t]", name, address, device.RSSI, hasFTMS)

		mu.Lock()
		candidates = append(candidates, Candidate{Address: address, Name: name, FTMS: hasFTMS, result: device})
		mu.Unlock()
	})
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	return candidates, nil
}

// Connect connects to a scanned candidate
func Connect(adapter *bluetooth.Adapter, logger *log.Logger, c Candidate) (BTDevice, error) {
	d := newBtDeviceImpl(logger, c)

	logger.Printf("BTDevice: connecting to %s (%s)", c.Name, c.Address)
	device, err := adapter.Connect(c.result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", c.Address, err)
	}
	d.setConnectedDevice(&device)
	return d, nil
}

type btDeviceImpl struct {
	address   string
	localName string
	logger    *log.Logger

	mu              sync.Mutex
	bleMu           sync.Mutex // Serializes BLE characteristic operations (notifications, reads, writes)
	connectedDevice *bluetooth.Device

	serviceUuidStrs        []string
	serviceByUuid          *safe_map.SafeMap[string, *bluetooth.DeviceService]
	characteristicByUuid   *safe_map.SafeMap[string, *bluetooth.DeviceCharacteristic]
	serviceCharsDiscovered *safe_map.SafeMap[string, bool]
	allServicesDiscovered  bool
}

func newBtDeviceImpl(logger *log.Logger, c Candidate) *btDeviceImpl {
	if logger == nil {
		panic("BTDevice: logger cannot be nil")
	}
	name := c.Name
	if name == "" {
		name = "Unknown"
	}
	d := &btDeviceImpl{
		address:                c.Address,
		localName:              name,
		logger:                 logger,
		serviceByUuid:          safe_map.NewSafeMap[string, *bluetooth.DeviceService](),
		characteristicByUuid:   safe_map.NewSafeMap[string, *bluetooth.DeviceCharacteristic](),
		serviceCharsDiscovered: safe_map.NewSafeMap[string, bool](),
	}
	if c.FTMS {
		d.serviceUuidStrs = []string{ftms.ServiceUUIDFTMS}
	}
	return d
}

func (b *btDeviceImpl) GetAddressString() string {
	return b.address
}

func (b *btDeviceImpl) GetLocalName() string {
	return b.localName
}

// HasServiceUUID reports advertised services, and discovered ones once the
// services have been discovered
func (b *btDeviceImpl) HasServiceUUID(uuid string) bool {
	if slices.Contains(b.serviceUuidStrs, uuid) {
		return true
	}
	_, ok := b.serviceByUuid.Load(uuid)
	return ok
}

func (b *btDeviceImpl) setConnectedDevice(device *bluetooth.Device) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connectedDevice = device
}

func (b *btDeviceImpl) getConnectedDevice() *bluetooth.Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connectedDevice
}

func (b *btDeviceImpl) Disconnect() error {
	device := b.getConnectedDevice()
	if device == nil {
		return nil
	}
	b.logger.Printf("BTDevice: disconnecting from %s", b.address)
	b.setConnectedDevice(nil)
	return device.Disconnect()
}

func (b *btDeviceImpl) EnableNotifications(serviceUuidStr, characteristicUuidStr string, callbackFunc func(buf []byte)) error {
	b.bleMu.Lock()
	defer b.bleMu.Unlock()

	characteristic, err := b.characteristic(serviceUuidStr, characteristicUuidStr)
	if err != nil {
		return err
	}
	if err := characteristic.EnableNotifications(callbackFunc); err != nil {
		return fmt.Errorf("failed to enable notifications on %s: %w", characteristicUuidStr, err)
	}
	b.logger.Printf("BTDevice: notifications enabled for %s", characteristicUuidStr)
	return nil
}

func (b *btDeviceImpl) DisableNotifications(serviceUuidStr, characteristicUuidStr string) error {
	b.bleMu.Lock()
	defer b.bleMu.Unlock()

	characteristic, err := b.characteristic(serviceUuidStr, characteristicUuidStr)
	if err != nil {
		return err
	}
	// a nil callback disables notifications
	if err := characteristic.EnableNotifications(nil); err != nil {
		return fmt.Errorf("failed to disable notifications on %s: %w", characteristicUuidStr, err)
	}
	return nil
}

func (b *btDeviceImpl) ReadCharacteristic(serviceUuidStr, characteristicUuidStr string) ([]byte, error) {
	b.bleMu.Lock()
	defer b.bleMu.Unlock()

	characteristic, err := b.characteristic(serviceUuidStr, characteristicUuidStr)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 512)
	n, err := characteristic.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", characteristicUuidStr, err)
	}
	return buf[:n], nil
}

func (b *btDeviceImpl) WriteCharacteristic(serviceUuidStr, characteristicUuidStr string, data []byte) error {
	b.bleMu.Lock()
	defer b.bleMu.Unlock()

	characteristic, err := b.characteristic(serviceUuidStr, characteristicUuidStr)
	if err != nil {
		return err
	}
	if _, err := characteristic.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", characteristicUuidStr, err)
	}
	return nil
}

func (b *btDeviceImpl) characteristic(serviceUuidStr, characteristicUuidStr string) (*bluetooth.DeviceCharacteristic, error) {
	serviceUuid, err := bluetooth.ParseUUID(serviceUuidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid service UUID %q: %w", serviceUuidStr, err)
	}
	characteristicUuid, err := bluetooth.ParseUUID(characteristicUuidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid characteristic UUID %q: %w", characteristicUuidStr, err)
	}
	return b.getDeviceCharacteristic(serviceUuid, characteristicUuid)
}

func (b *btDeviceImpl) getDeviceService(serviceUuid bluetooth.UUID) (*bluetooth.DeviceService, error) {
	connectedDevice := b.getConnectedDevice()
	if connectedDevice == nil {
		return nil, ErrNotConnected
	}
	serviceUuidStr := serviceUuid.String()

	if service, ok := b.serviceByUuid.Load(serviceUuidStr); ok {
		return service, nil
	}

	// Discover all services at once: discovering a single service again
	// interrupts the services already in use
	if !b.allServicesDiscovered {
		b.logger.Printf("BTDevice: discovering all services")
		deviceServices, err := connectedDevice.DiscoverServices(nil)
		if err != nil {
			return nil, fmt.Errorf("error discovering services: %w", err)
		}
		for i := range deviceServices {
			svc := &deviceServices[i]
			b.serviceByUuid.Store(svc.UUID().String(), svc)
		}
		b.allServicesDiscovered = true
	}

	service, ok := b.serviceByUuid.Load(serviceUuidStr)
	if !ok {
		return nil, fmt.Errorf("service %v not found on device", serviceUuidStr)
	}
	return service, nil
}

func (b *btDeviceImpl) getDeviceCharacteristic(serviceUuid bluetooth.UUID, charUuid bluetooth.UUID) (*bluetooth.DeviceCharacteristic, error) {
	serviceUuidStr := serviceUuid.String()
	comboUuidStr := serviceUuidStr + "_" + charUuid.String()

	if characteristic, ok := b.characteristicByUuid.Load(comboUuidStr); ok {
		return characteristic, nil
	}

	if discovered, _ := b.serviceCharsDiscovered.Load(serviceUuidStr); !discovered {
		service, err := b.getDeviceService(serviceUuid)
		if err != nil {
			return nil, err
		}
		b.logger.Printf("BTDevice: discovering all characteristics for service %s", serviceUuidStr)
		discovered, err := service.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, fmt.Errorf("could not discover characteristics for service %v: %w", serviceUuidStr, err)
		}
		for i := range discovered {
			char := &discovered[i]
			b.characteristicByUuid.Store(serviceUuidStr+"_"+char.UUID().String(), char)
		}
		b.serviceCharsDiscovered.Store(serviceUuidStr, true)
	}

	characteristic, ok := b.characteristicByUuid.Load(comboUuidStr)
	if !ok {
		return nil, fmt.Errorf("characteristic %v not found in service %v", charUuid.String(), serviceUuidStr)
	}
	return characteristic, nil
}
