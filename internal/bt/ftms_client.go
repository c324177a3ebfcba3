package bt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/events"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/ftms"
)

const (
	DefaultResponseTimeout = time.Second
	DefaultStepInterval    = time.Second
	responseBuffer         = 8
)

var (
	ErrNoFTMSDevice    = errors.New("no FTMS device found")
	ErrResponseTimeout = errors.New("no control point response")
)

// ControlPointError is a request the server answered with another result than Success
type ControlPointError struct {
	Request ftms.OpCode
	Result  ftms.ResultCode
}

func (e *ControlPointError) Error() string {
	return fmt.Sprintf("control point %s failed: %s", e.Request, e.Result)
}

// DefaultProgram is a short training against the server: take control,
// start, alternate target power and grade with decreasing values, finish at
// 50 W, stop and reset.
func DefaultProgram() []ftms.Request {
	program := []ftms.Request{
		ftms.SimpleRequest(ftms.OpRequestControl),
		ftms.SimpleRequest(ftms.OpStartOrResume),
	}
	for countDown := 4; countDown > 0; countDown-- {
		program = append(program,
			ftms.SetTargetPowerRequest(int16(320+countDown)),
			ftms.SetSimulationRequest(ftms.SimulationParameters{
				GradePercent:      float64(countDown),
				RollingResistance: 0.004,
				WindResistance:    0.51,
			}),
		)
	}
	return append(program,
		ftms.SetTargetPowerRequest(50),
		ftms.StopRequest(false),
		ftms.SimpleRequest(ftms.OpReset),
	)
}

type subscription struct {
	service        string
	characteristic string
	required       bool
	handler        func(buf []byte)
}

// FTMSClient drives a Fitness Machine Service server through its control
// point while logging what the server notifies. It exercises a bridge, or
// any FTMS trainer, the way a training application would.
type FTMSClient struct {
	logger          *log.Logger
	device          BTDevice
	responseTimeout time.Duration
	stepInterval    time.Duration

	responses      chan ftms.Response
	bikeDataEvent  *events.ChannelEvent[ftms.IndoorBikeData]
	subscriptions  []subscription
	mu             sync.Mutex
	lastBikeData   *ftms.IndoorBikeData
	heartRate      int
	lastStatus     ftms.StatusCode
	statusReceived bool
}

func NewFTMSClient(logger *log.Logger, device BTDevice, responseTimeout, stepInterval time.Duration) *FTMSClient {
	if logger == nil {
		panic("FTMSClient: logger cannot be nil")
	}
	if device == nil {
		panic("FTMSClient: device cannot be nil")
	}
	if responseTimeout <= 0 {
		panic("FTMSClient: responseTimeout must be > 0")
	}
	c := &FTMSClient{
		logger:          logger,
		device:          device,
		responseTimeout: responseTimeout,
		stepInterval:    stepInterval,
		responses:       make(chan ftms.Response, responseBuffer),
		bikeDataEvent:   events.NewChannelEvent[ftms.IndoorBikeData](true),
	}
	c.subscriptions = []subscription{
		{ftms.ServiceUUIDFTMS, ftms.CharUUIDFitnessMachineStatus, false, c.onStatus},
		{ftms.ServiceUUIDHeartRate, ftms.CharUUIDHeartRateMeasurement, false, c.onHeartRate},
		{ftms.ServiceUUIDFTMS, ftms.CharUUIDIndoorBikeData, true, c.onIndoorBikeData},
		{ftms.ServiceUUIDFTMS, ftms.CharUUIDFTMSControlPoint, true, c.onControlPoint},
	}
	return c
}

// ListenToIndoorBikeData registers a channel receiving every parsed Indoor Bike Data notification
// Returns a deregistration function that can be called to remove the listener
func (c *FTMSClient) ListenToIndoorBikeData(ch chan<- ftms.IndoorBikeData) func() {
	return c.bikeDataEvent.Listen(ch)
}

// LastIndoorBikeData returns the latest notification, false before the first one
func (c *FTMSClient) LastIndoorBikeData() (ftms.IndoorBikeData, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastBikeData == nil {
		return ftms.IndoorBikeData{}, false
	}
	return *c.lastBikeData, true
}

// HeartRate is the last Heart Rate Measurement, 0 when none
func (c *FTMSClient) HeartRate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.heartRate
}

// LastStatus returns the latest Fitness Machine Status op code
func (c *FTMSClient) LastStatus() (ftms.StatusCode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastStatus, c.statusReceived
}

// Inspect reads the feature and supported power range characteristics
func (c *FTMSClient) Inspect() (ftms.Feature, ftms.PowerRange, error) {
	buf, err := c.device.ReadCharacteristic(ftms.ServiceUUIDFTMS, ftms.CharUUIDFTMSFeature)
	if err != nil {
		return ftms.Feature{}, ftms.PowerRange{}, fmt.Errorf("read feature: %w", err)
	}
	feature, err := ftms.ParseFeature(buf)
	if err != nil {
		return ftms.Feature{}, ftms.PowerRange{}, err
	}

	buf, err = c.device.ReadCharacteristic(ftms.ServiceUUIDFTMS, ftms.CharUUIDSupportedPowerRange)
	if err != nil {
		return ftms.Feature{}, ftms.PowerRange{}, fmt.Errorf("read supported power range: %w", err)
	}
	powerRange, err := ftms.ParsePowerRange(buf)
	if err != nil {
		return ftms.Feature{}, ftms.PowerRange{}, err
	}

	c.logger.Printf("FTMSClient: %s features 0x%08X target settings 0x%08X power %d..%d W",
		c.device.GetLocalName(), feature.Machine, feature.TargetSettings, powerRange.MinWatts, powerRange.MaxWatts)
	return feature, powerRange, nil
}

// Run inspects the server, subscribes to its notifications and sends the
// program one request at a time, each one only after the previous was
// answered with Success
func (c *FTMSClient) Run(ctx context.Context, program []ftms.Request) error {
	if _, _, err := c.Inspect(); err != nil {
		return err
	}
	if err := c.subscribe(); err != nil {
		c.unsubscribe()
		return err
	}
	defer c.unsubscribe()

	for i, req := range program {
		if i > 0 && c.stepInterval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.stepInterval):
			}
		}
		if err := c.Send(ctx, req); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	c.logger.Printf("FTMSClient: program of %d requests completed", len(program))
	return nil
}

// Send writes one control point request and waits for its indication
func (c *FTMSClient) Send(ctx context.Context, req ftms.Request) error {
	c.drainResponses()
	c.logger.Printf("FTMSClient: sending %s % X", req.OpCode, req.Encode())
	if err := c.device.WriteCharacteristic(ftms.ServiceUUIDFTMS, ftms.CharUUIDFTMSControlPoint, req.Encode()); err != nil {
		return fmt.Errorf("%s: %w", req.OpCode, err)
	}

	timeout := time.NewTimer(c.responseTimeout)
	defer timeout.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			return fmt.Errorf("%w to %s after %s", ErrResponseTimeout, req.OpCode, c.responseTimeout)
		case resp := <-c.responses:
			if resp.RequestOpCode != req.OpCode {
				c.logger.Printf("FTMSClient: ignoring response to %s while waiting for %s", resp.RequestOpCode, req.OpCode)
				continue
			}
			if resp.Result != ftms.ResultSuccess {
				return &ControlPointError{Request: req.OpCode, Result: resp.Result}
			}
			return nil
		}
	}
}

func (c *FTMSClient) drainResponses() {
	for {
		select {
		case <-c.responses:
		default:
			return
		}
	}
}

func (c *FTMSClient) subscribe() error {
	for _, s := range c.subscriptions {
		err := c.device.EnableNotifications(s.service, s.characteristic, s.handler)
		if err == nil {
			continue
		}
		if s.required {
			return fmt.Errorf("subscribe %s: %w", s.characteristic, err)
		}
		c.logger.Printf("FTMSClient: registration for %s failed: %v", s.characteristic, err)
	}
	return nil
}

func (c *FTMSClient) unsubscribe() {
	for _, s := range c.subscriptions {
		if err := c.device.DisableNotifications(s.service, s.characteristic); err != nil && s.required {
			c.logger.Printf("FTMSClient: unsubscribe %s: %v", s.characteristic, err)
		}
	}
}

func (c *FTMSClient) onControlPoint(buf []byte) {
	resp, err := ftms.ParseResponse(buf)
	if err != nil {
		c.logger.Printf("FTMSClient: control point indication % X: %v", buf, err)
		return
	}
	c.logger.Printf("FTMSClient: %s -> %s", resp.RequestOpCode, resp.Result)
	select {
	case c.responses <- resp:
	default:
		c.logger.Printf("FTMSClient: dropping response to %s", resp.RequestOpCode)
	}
}

func (c *FTMSClient) onIndoorBikeData(buf []byte) {
	d, err := ftms.ParseIndoorBikeData(buf)
	if err != nil {
		c.logger.Printf("FTMSClient: indoor bike data % X: %v", buf, err)
		return
	}
	c.mu.Lock()
	c.lastBikeData = d
	c.mu.Unlock()
	c.bikeDataEvent.Notify(*d)
}

func (c *FTMSClient) onStatus(buf []byte) {
	s, err := ftms.ParseStatus(buf)
	if err != nil {
		c.logger.Printf("FTMSClient: machine status: %v", err)
		return
	}
	c.mu.Lock()
	c.lastStatus, c.statusReceived = s.Code, true
	c.mu.Unlock()
	c.logger.Printf("FTMSClient: machine status %s % X", s.Code, s.Parameter)
}

func (c *FTMSClient) onHeartRate(buf []byte) {
	bpm, err := ftms.ParseHeartRateMeasurement(buf)
	if err != nil {
		c.logger.Printf("FTMSClient: heart rate measurement: %v", err)
		return
	}
	c.mu.Lock()
	c.heartRate = bpm
	c.mu.Unlock()
}
