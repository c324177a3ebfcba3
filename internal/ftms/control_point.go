package ftms

import (
	"encoding/binary"
	"fmt"
	"math"
)

// SimulationParameters is the parameter of Set Indoor Bike Simulation
type SimulationParameters struct {
	WindSpeedMps      float64 // 0.001 m/s
	GradePercent      float64 // 0.01 %
	RollingResistance float64 // 0.0001
	WindResistance    float64 // 0.01 kg/m
}

func (p SimulationParameters) Encode() []byte {
	b := make([]byte, 6)
	binary.LittleEndian.PutUint16(b[0:], uint16(int16(round(p.WindSpeedMps*1000))))
	binary.LittleEndian.PutUint16(b[2:], uint16(int16(round(p.GradePercent*100))))
	b[4] = byte(clamp(round(p.RollingResistance*10000), 0, 0xFF))
	b[5] = byte(clamp(round(p.WindResistance*100), 0, 0xFF))
	return b
}

func ParseSimulationParameters(buf []byte) (SimulationParameters, error) {
	if len(buf) < 6 {
		return SimulationParameters{}, fmt.Errorf("simulation parameters of %d bytes: %w", len(buf), ErrShortData)
	}
	return SimulationParameters{
		WindSpeedMps:      float64(int16(binary.LittleEndian.Uint16(buf[0:]))) / 1000,
		GradePercent:      float64(int16(binary.LittleEndian.Uint16(buf[2:]))) / 100,
		RollingResistance: float64(buf[4]) / 10000,
		WindResistance:    float64(buf[5]) / 100,
	}, nil
}

// Request is a write to the control point
type Request struct {
	OpCode    OpCode
	Parameter []byte
}

func ParseRequest(buf []byte) (Request, error) {
	if len(buf) < 1 {
		return Request{}, fmt.Errorf("control point request: %w", ErrShortData)
	}
	return Request{OpCode: OpCode(buf[0]), Parameter: append([]byte{}, buf[1:]...)}, nil
}

func (r Request) Encode() []byte {
	return append([]byte{byte(r.OpCode)}, r.Parameter...)
}

// SimpleRequest is a request without parameter: Request Control, Reset, Start or Resume
func SimpleRequest(op OpCode) Request {
	return Request{OpCode: op}
}

// StopRequest stops (pause false) or pauses the training
func StopRequest(pause bool) Request {
	param := byte(1)
	if pause {
		param = 2
	}
	return Request{OpCode: OpStopOrPause, Parameter: []byte{param}}
}

func SetTargetPowerRequest(watts int16) Request {
	return Request{OpCode: OpSetTargetPower, Parameter: binary.LittleEndian.AppendUint16(nil, uint16(watts))}
}

func SetSimulationRequest(p SimulationParameters) Request {
	return Request{OpCode: OpSetIndoorBikeSimulation, Parameter: p.Encode()}
}

// Response is the control point indication: 0x80, request op code, result
type Response struct {
	RequestOpCode OpCode
	Result        ResultCode
}

func (r Response) Encode() []byte {
	return []byte{byte(OpResponseCode), byte(r.RequestOpCode), byte(r.Result)}
}

func ParseResponse(buf []byte) (Response, error) {
	if len(buf) < 3 {
		return Response{}, fmt.Errorf("control point response of %d bytes: %w", len(buf), ErrShortData)
	}
	if OpCode(buf[0]) != OpResponseCode {
		return Response{}, fmt.Errorf("ftms: unexpected op code 0x%02X", buf[0])
	}
	return Response{RequestOpCode: OpCode(buf[1]), Result: ResultCode(buf[2])}, nil
}

// Status is a Fitness Machine Status notification
type Status struct {
	Code      StatusCode
	Parameter []byte
}

func (s Status) Encode() []byte {
	return append([]byte{byte(s.Code)}, s.Parameter...)
}

func ParseStatus(buf []byte) (Status, error) {
	if len(buf) < 1 {
		return Status{}, fmt.Errorf("machine status: %w", ErrShortData)
	}
	return Status{Code: StatusCode(buf[0]), Parameter: append([]byte{}, buf[1:]...)}, nil
}

func round(v float64) int {
	return int(math.Round(v))
}
