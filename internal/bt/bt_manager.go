package bt

import (
	"fmt"
	"log"
	"sync"

	"tinygo.org/x/bluetooth"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/antdev"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/events"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/ftms"
)

// BTManagerInterface is what the session needs from the BLE side
type BTManagerInterface interface {
	Enable() error
	NotifyTelemetry(t antdev.Telemetry) error
	ListenToConnectedCount(ch chan<- int) func()
	Shutdown()
}

// Verify BTManager implements BTManagerInterface
var _ BTManagerInterface = (*BTManager)(nil)

// characteristicWriter is the part of bluetooth.Characteristic used to notify
type characteristicWriter interface {
	Write(p []byte) (n int, err error)
}

// BTManager advertises the Fitness Machine Service and serves one FTMS controller
type BTManager struct {
	adapter    *bluetooth.Adapter
	logger     *log.Logger
	localName  string
	controller *ftms.Controller
	feature    ftms.Feature
	powerRange ftms.PowerRange

	bleMu          sync.Mutex // Serializes BLE characteristic operations (notifications, indications)
	indoorBikeData characteristicWriter
	controlPoint   characteristicWriter
	machineStatus  characteristicWriter

	mu                    sync.RWMutex
	connectedCount        int
	connectedCountEvent   *events.ChannelEvent[int]
	advertisement         *bluetooth.Advertisement
	indoorBikeDataHandle  bluetooth.Characteristic
	controlPointHandle    bluetooth.Characteristic
	machineStatusHandle   bluetooth.Characteristic
	featureHandle         bluetooth.Characteristic
	supportedRangesHandle bluetooth.Characteristic
}

func NewBTManager(adapter *bluetooth.Adapter, logger *log.Logger, localName string, controller *ftms.Controller) *BTManager {
	if logger == nil {
		panic("BTManager: logger cannot be nil")
	}
	if controller == nil {
		panic("BTManager: controller cannot be nil")
	}
	return &BTManager{
		adapter:             adapter,
		logger:              logger,
		localName:           localName,
		controller:          controller,
		feature:             ftms.DefaultFeature(),
		powerRange:          ftms.DefaultPowerRange(),
		connectedCountEvent: events.NewChannelEvent[int](true),
	}
}

func (m *BTManager) Enable() error {
	// Track centrals; control is released when the last one leaves
	m.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		m.mu.Lock()
		if connected {
			m.connectedCount++
			m.logger.Printf("BTManager: central connected: %s", device.Address.String())
		} else {
			if m.connectedCount > 0 {
				m.connectedCount--
			}
			m.logger.Printf("BTManager: central disconnected: %s", device.Address.String())
		}
		count := m.connectedCount
		m.mu.Unlock()

		if count == 0 {
			m.controller.Release()
		}
		m.connectedCountEvent.Notify(count)
	})

	if err := m.adapter.Enable(); err != nil {
		return fmt.Errorf("enable adapter: %w", err)
	}
	if err := m.addService(); err != nil {
		return err
	}
	return m.advertise()
}

func (m *BTManager) addService() error {
	uuids := make(map[string]bluetooth.UUID)
	for _, s := range []string{
		ftms.ServiceUUIDFTMS,
		ftms.CharUUIDFTMSFeature,
		ftms.CharUUIDIndoorBikeData,
		ftms.CharUUIDSupportedPowerRange,
		ftms.CharUUIDFTMSControlPoint,
		ftms.CharUUIDFitnessMachineStatus,
	} {
		uuid, err := bluetooth.ParseUUID(s)
		if err != nil {
			return fmt.Errorf("invalid uuid %s: %w", s, err)
		}
		uuids[s] = uuid
	}

	service := &bluetooth.Service{
		UUID: uuids[ftms.ServiceUUIDFTMS],
		Characteristics: []bluetooth.CharacteristicConfig{
			{
				Handle: &m.featureHandle,
				UUID:   uuids[ftms.CharUUIDFTMSFeature],
				Value:  m.feature.Encode(),
				Flags:  bluetooth.CharacteristicReadPermission,
			},
			{
				Handle: &m.indoorBikeDataHandle,
				UUID:   uuids[ftms.CharUUIDIndoorBikeData],
				Value:  ftms.NewIndoorBikeData(0, 0, 0, 0).Encode(),
				Flags:  bluetooth.CharacteristicNotifyPermission,
			},
			{
				Handle: &m.supportedRangesHandle,
				UUID:   uuids[ftms.CharUUIDSupportedPowerRange],
				Value:  m.powerRange.Encode(),
				Flags:  bluetooth.CharacteristicReadPermission,
			},
			{
				Handle: &m.controlPointHandle,
				UUID:   uuids[ftms.CharUUIDFTMSControlPoint],
				Flags:  bluetooth.CharacteristicWritePermission | bluetooth.CharacteristicIndicatePermission,
				WriteEvent: func(client bluetooth.Connection, offset int, value []byte) {
					m.handleControlPoint(value)
				},
			},
			{
				Handle: &m.machineStatusHandle,
				UUID:   uuids[ftms.CharUUIDFitnessMachineStatus],
				Flags:  bluetooth.CharacteristicNotifyPermission,
			},
		},
	}
	if err := m.adapter.AddService(service); err != nil {
		return fmt.Errorf("add FTMS service: %w", err)
	}

	m.bleMu.Lock()
	m.indoorBikeData = &m.indoorBikeDataHandle
	m.controlPoint = &m.controlPointHandle
	m.machineStatus = &m.machineStatusHandle
	m.bleMu.Unlock()
	return nil
}

func (m *BTManager) advertise() error {
	serviceUUID, err := bluetooth.ParseUUID(ftms.ServiceUUIDFTMS)
	if err != nil {
		return err
	}
	adv := m.adapter.DefaultAdvertisement()
	err = adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    m.localName,
		ServiceUUIDs: []bluetooth.UUID{serviceUUID},
	})
	if err != nil {
		return fmt.Errorf("configure advertisement: %w", err)
	}
	if err := adv.Start(); err != nil {
		return fmt.Errorf("start advertisement: %w", err)
	}

	m.mu.Lock()
	m.advertisement = adv
	m.mu.Unlock()
	m.logger.Printf("BTManager: advertising %q", m.localName)
	return nil
}

// handleControlPoint answers a control point write with an indication and
// sends the resulting status notifications
func (m *BTManager) handleControlPoint(value []byte) {
	resp, statuses := m.controller.Handle(value)

	m.bleMu.Lock()
	defer m.bleMu.Unlock()
	if m.controlPoint != nil {
		if _, err := m.controlPoint.Write(resp.Encode()); err != nil {
			m.logger.Printf("BTManager: control point indication failed: %v", err)
		}
	}
	if m.machineStatus == nil {
		return
	}
	for _, s := range statuses {
		if _, err := m.machineStatus.Write(s.Encode()); err != nil {
			m.logger.Printf("BTManager: machine status notification failed: %v", err)
		}
	}
}

// NotifyTelemetry sends one Indoor Bike Data notification
func (m *BTManager) NotifyTelemetry(t antdev.Telemetry) error {
	data := ftms.NewIndoorBikeData(t.SpeedKmh, t.Cadence, t.PowerWatts, t.HeartRate).Encode()

	m.bleMu.Lock()
	defer m.bleMu.Unlock()
	if m.indoorBikeData == nil {
		return nil
	}
	if _, err := m.indoorBikeData.Write(data); err != nil {
		return fmt.Errorf("indoor bike data notification: %w", err)
	}
	return nil
}

// ListenToConnectedCount registers a channel to receive the number of connected centrals
// Returns a deregistration function that can be called to remove the listener
func (m *BTManager) ListenToConnectedCount(ch chan<- int) func() {
	return m.connectedCountEvent.Listen(ch)
}

func (m *BTManager) ConnectedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connectedCount
}

// Shutdown stops advertising
func (m *BTManager) Shutdown() {
	m.logger.Println("BTManager: Shutting down")
	m.mu.Lock()
	adv := m.advertisement
	m.advertisement = nil
	m.mu.Unlock()

	if adv != nil {
		if err := adv.Stop(); err != nil {
			m.logger.Printf("BTManager: Error stopping advertisement: %v", err)
		}
	}
	m.controller.Release()
	m.logger.Println("BTManager: Shutdown complete")
}
