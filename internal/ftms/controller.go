package ftms

import (
	"encoding/binary"
	"log"
	"sync"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/antdev"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/events"
)

const kmhPerMps = 3.6

// Controller answers control point writes of one connected application.
// Accepted targets are published the same way the FE profile publishes
// them, so the trainer does not care where a target came from.
type Controller struct {
	mu         sync.Mutex
	logger     *log.Logger
	powerRange PowerRange
	controlled bool
	running    bool
	target     antdev.Target
	targets    *events.ChannelEvent[antdev.Target]
}

func NewController(logger *log.Logger, powerRange PowerRange) *Controller {
	if logger == nil {
		panic("FTMS: logger cannot be nil")
	}
	return &Controller{
		logger:     logger,
		powerRange: powerRange,
		target:     antdev.DefaultTarget(),
		targets:    events.NewChannelEvent[antdev.Target](true),
	}
}

func (c *Controller) Targets() *events.ChannelEvent[antdev.Target] {
	return c.targets
}

func (c *Controller) Target() antdev.Target {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

func (c *Controller) Controlled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.controlled
}

func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Release drops the control, for instance when the application disconnects
func (c *Controller) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controlled = false
}

// Handle processes one control point write. It returns the response to
// indicate and the status notifications to send, in order.
func (c *Controller) Handle(buf []byte) (Response, []Status) {
	req, err := ParseRequest(buf)
	if err != nil {
		c.logger.Printf("FTMS: %v", err)
		return Response{RequestOpCode: OpRequestControl, Result: ResultInvalidParameter}, nil
	}

	c.mu.Lock()
	resp, statuses, publish := c.handle(req)
	target := c.target
	c.mu.Unlock()

	c.logger.Printf("FTMS Control Point: %s -> %s", req.OpCode, resp.Result)
	if publish {
		c.targets.Notify(target)
	}
	return resp, statuses
}

func (c *Controller) handle(req Request) (Response, []Status, bool) {
	result := func(r ResultCode) Response {
		return Response{RequestOpCode: req.OpCode, Result: r}
	}

	if req.OpCode == OpRequestControl {
		c.controlled = true
		return result(ResultSuccess), nil, false
	}

	switch req.OpCode {
	case OpReset, OpSetTargetPower, OpStartOrResume, OpStopOrPause, OpSetIndoorBikeSimulation:
	default:
		return result(ResultOpCodeNotSupported), nil, false
	}
	if !c.controlled {
		return result(ResultControlNotPermitted), nil, false
	}

	switch req.OpCode {
	case OpReset:
		c.controlled = false
		c.running = false
		c.target = antdev.DefaultTarget()
		return result(ResultSuccess), []Status{{Code: StatusReset}}, true

	case OpSetTargetPower:
		if len(req.Parameter) < 2 {
			return result(ResultInvalidParameter), nil, false
		}
		watts := int16(binary.LittleEndian.Uint16(req.Parameter))
		if !c.powerRange.Contains(watts) {
			return result(ResultInvalidParameter), nil, false
		}
		c.target.Mode = antdev.ModeTargetPower
		c.target.PowerWatts = float64(watts)
		return result(ResultSuccess), []Status{{Code: StatusTargetPowerChanged, Parameter: req.Parameter[:2]}}, true

	case OpStartOrResume:
		c.running = true
		return result(ResultSuccess), []Status{{Code: StatusStartedOrResumedByUser}}, false

	case OpStopOrPause:
		// 1 stop, 2 pause
		param := byte(1)
		if len(req.Parameter) > 0 {
			param = req.Parameter[0]
		}
		if param != 1 && param != 2 {
			return result(ResultInvalidParameter), nil, false
		}
		c.running = false
		return result(ResultSuccess), []Status{{Code: StatusStoppedOrPausedByUser, Parameter: []byte{param}}}, false

	default: // OpSetIndoorBikeSimulation
		p, err := ParseSimulationParameters(req.Parameter)
		if err != nil {
			return result(ResultInvalidParameter), nil, false
		}
		c.target.Mode = antdev.ModeSimulation
		c.target.GradePercent = p.GradePercent
		c.target.WindSpeedKmh = p.WindSpeedMps * kmhPerMps
		c.target.RollingResistance = p.RollingResistance
		c.target.WindResistance = p.WindResistance
		return result(ResultSuccess), []Status{{Code: StatusIndoorBikeSimulationParamsChanged, Parameter: req.Parameter[:6]}}, true
	}
}
