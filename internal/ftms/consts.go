// Package ftms encodes the Bluetooth LE Fitness Machine Service records and
// runs the control point state machine of an indoor bike
package ftms

// Bluetooth Service and Characteristic UUIDs of the Fitness Machine Service
const (
	ServiceUUIDFTMS              = "00001826-0000-1000-8000-00805f9b34fb"
	CharUUIDFTMSFeature          = "00002acc-0000-1000-8000-00805f9b34fb"
	CharUUIDIndoorBikeData       = "00002ad2-0000-1000-8000-00805f9b34fb"
	CharUUIDSupportedPowerRange  = "00002ad8-0000-1000-8000-00805f9b34fb"
	CharUUIDFTMSControlPoint     = "00002ad9-0000-1000-8000-00805f9b34fb"
	CharUUIDFitnessMachineStatus = "00002ada-0000-1000-8000-00805f9b34fb"
)

// Heart Rate Service, subscribed to by the FTMS client when a trainer relays a strap
const (
	ServiceUUIDHeartRate         = "0000180d-0000-1000-8000-00805f9b34fb"
	CharUUIDHeartRateMeasurement = "00002a37-0000-1000-8000-00805f9b34fb"
)

// OpCode is a Fitness Machine Control Point op code
type OpCode byte

// FTMS Control Point Op Codes (Fitness Machine Service 1.0)
// See: https://www.bluetooth.com/specifications/specs/fitness-machine-service-1-0/
const (
	OpRequestControl          OpCode = 0x00
	OpReset                   OpCode = 0x01
	OpSetTargetResistance     OpCode = 0x04
	OpSetTargetPower          OpCode = 0x05
	OpStartOrResume           OpCode = 0x07
	OpStopOrPause             OpCode = 0x08
	OpSetIndoorBikeSimulation OpCode = 0x11
	OpResponseCode            OpCode = 0x80
)

func (op OpCode) String() string {
	switch op {
	case OpRequestControl:
		return "Request Control"
	case OpReset:
		return "Reset"
	case OpSetTargetResistance:
		return "Set Target Resistance"
	case OpSetTargetPower:
		return "Set Target Power"
	case OpStartOrResume:
		return "Start/Resume"
	case OpStopOrPause:
		return "Stop/Pause"
	case OpSetIndoorBikeSimulation:
		return "Set Indoor Bike Simulation"
	case OpResponseCode:
		return "Response Code"
	default:
		return "Unknown"
	}
}

// ResultCode answers a control point request
type ResultCode byte

// FTMS Control Point Result Codes
const (
	ResultSuccess             ResultCode = 0x01
	ResultOpCodeNotSupported  ResultCode = 0x02
	ResultInvalidParameter    ResultCode = 0x03
	ResultOperationFailed     ResultCode = 0x04
	ResultControlNotPermitted ResultCode = 0x05
)

func (r ResultCode) String() string {
	switch r {
	case ResultSuccess:
		return "Success"
	case ResultOpCodeNotSupported:
		return "Op Code Not Supported"
	case ResultInvalidParameter:
		return "Invalid Parameter"
	case ResultOperationFailed:
		return "Operation Failed"
	case ResultControlNotPermitted:
		return "Control Not Permitted"
	default:
		return "Unknown"
	}
}

// StatusCode is the first byte of a Fitness Machine Status notification
type StatusCode byte

const (
	StatusReset                             StatusCode = 0x01
	StatusStoppedOrPausedByUser             StatusCode = 0x02
	StatusStartedOrResumedByUser            StatusCode = 0x04
	StatusTargetPowerChanged                StatusCode = 0x08
	StatusIndoorBikeSimulationParamsChanged StatusCode = 0x12
	StatusControlPermissionLost             StatusCode = 0xFF
)

func (s StatusCode) String() string {
	switch s {
	case StatusReset:
		return "Reset"
	case StatusStoppedOrPausedByUser:
		return "Stopped or Paused"
	case StatusStartedOrResumedByUser:
		return "Started or Resumed"
	case StatusTargetPowerChanged:
		return "Target Power Changed"
	case StatusIndoorBikeSimulationParamsChanged:
		return "Indoor Bike Simulation Parameters Changed"
	case StatusControlPermissionLost:
		return "Control Permission Lost"
	default:
		return "Unknown"
	}
}

// Fitness Machine Features field bits
const (
	FeatureCadence     uint32 = 1 << 1
	FeatureHeartRate   uint32 = 1 << 10
	FeaturePower       uint32 = 1 << 14
	TargetSettingPower uint32 = 1 << 3
	TargetSettingSim   uint32 = 1 << 13
)
