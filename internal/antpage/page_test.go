package antpage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPages_RoundTrip(t *testing.T) {
	t.Run("control", func(t *testing.T) {
		in := Control{Channel: 4, CurrentNotifications: 1, DeviceCapabilities: GenericControlOnly}
		b := in.Encode()
		require.Len(t, b, Size)
		assert.Equal(t, int(NumberControl), Number(b))
		out, err := DecodeControl(b)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})

	t.Run("general fe", func(t *testing.T) {
		in := GeneralFE{Channel: 0, ElapsedTime: 200, Distance: 77, Speed: 0xABCD, HeartRate: 150}
		b := in.Encode()
		assert.Equal(t, []byte{0, 16, 0x19, 200, 77, 0xCD, 0xAB, 150, 0x33}, b)
		out, err := DecodeGeneralFE(b)
		require.NoError(t, err)
		assert.Equal(t, in, out.GeneralFE)
		assert.Equal(t, EquipmentTypeTrainer, out.EquipmentType)
		assert.Equal(t, GeneralFECapabilities, out.Capabilities)
	})

	t.Run("specific trainer", func(t *testing.T) {
		in := SpecificTrainer{Channel: 0, EventCount: 9, Cadence: 90, AccumulatedPower: 0x1234, InstantaneousPower: 250}
		b := in.Encode()
		assert.Equal(t, []byte{0, 25, 9, 90, 0x34, 0x12, 250, 0, 0x30}, b)
		out, err := DecodeSpecificTrainer(b)
		require.NoError(t, err)
		assert.Equal(t, in, out.SpecificTrainer)
		assert.Equal(t, SpecificTrainerFlags, out.Flags)
	})

	t.Run("basic resistance", func(t *testing.T) {
		in := BasicResistance{Channel: 1, Resistance: 40}
		out, err := DecodeBasicResistance(in.Encode())
		require.NoError(t, err)
		assert.Equal(t, in, out)
		assert.Equal(t, 20.0, out.Percent())
	})

	t.Run("target power", func(t *testing.T) {
		in := TargetPower{Channel: 1, Power: 1000}
		out, err := DecodeTargetPower(in.Encode())
		require.NoError(t, err)
		assert.Equal(t, in, out)
		assert.Equal(t, 250.0, out.Watts())
	})

	t.Run("wind resistance", func(t *testing.T) {
		in := WindResistance{Channel: 1, WindResistanceCoeff: 51, WindSpeed: 127, DraftingFactor: 100}
		out, err := DecodeWindResistance(in.Encode())
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})

	t.Run("track resistance", func(t *testing.T) {
		in := TrackResistance{Channel: 1, Grade: 20500, RollingResistance: 80}
		out, err := DecodeTrackResistance(in.Encode())
		require.NoError(t, err)
		assert.Equal(t, in, out)
		assert.InDelta(t, 5.0, out.GradePercent(), 1e-9)
		assert.InDelta(t, 0.004, out.RollingResistanceCoeff(), 1e-9)
	})

	t.Run("fe capabilities", func(t *testing.T) {
		in := FECapabilities{Channel: 0, MaximumResistance: 2000, CapabilitiesBits: CapabilityTargetPower | CapabilitySimulation}
		out, err := DecodeFECapabilities(in.Encode())
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})

	t.Run("user configuration", func(t *testing.T) {
		in := UserConfiguration{Channel: 0, UserWeight: 7500, WheelDiameterOffset: 5, BikeWeight: 0xABC, WheelDiameter: 70, GearRatio: 100}
		out, err := DecodeUserConfiguration(in.Encode())
		require.NoError(t, err)
		assert.Equal(t, in, out)
		assert.InDelta(t, 75.0, out.UserWeightKg(), 1e-9)
		assert.InDelta(t, 0.705, out.WheelDiameterM(), 1e-9)
	})

	t.Run("request", func(t *testing.T) {
		in := Request{Channel: 0, SlaveSerial: 0xFFFF, Descriptor1: 0xFF, Descriptor2: 0xFF, RequestedTransmission: 0x84, RequestedPageNumber: 71, CommandType: CommandTypeDataPage}
		out, err := DecodeRequest(in.Encode())
		require.NoError(t, err)
		assert.Equal(t, in, out)
		assert.Equal(t, 4, out.NrTimes())
		assert.True(t, out.Acknowledged())
		assert.Equal(t, 1, Request{RequestedTransmission: 0x80}.NrTimes())
	})

	t.Run("command status", func(t *testing.T) {
		in := CommandStatus{Channel: 0, LastReceivedCommand: 49, Sequence: 3, Status: StatusPass, Data: [4]byte{0xFF, 0xFF, 0x20, 0x03}}
		out, err := DecodeCommandStatus(in.Encode())
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})

	t.Run("generic command", func(t *testing.T) {
		in := GenericCommand{Channel: 5, SlaveSerial: 0x1111, ManufacturerID: 0x00FF, Sequence: 8, Command: 36}
		out, err := DecodeGenericCommand(in.Encode())
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})

	t.Run("manufacturer info", func(t *testing.T) {
		in := ManufacturerInfo{Channel: 2, Reserved1: 0xFF, Reserved2: 0xFF, HWRevision: 1, ManufacturerID: 89, ModelNumber: 2875}
		out, err := DecodeManufacturerInfo(in.Encode())
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})

	t.Run("product info", func(t *testing.T) {
		in := ProductInfo{Channel: 2, Reserved: 0xFF, SWRevisionSupp: 1, SWRevisionMain: 2, SerialNumber: 0xDEADBEEF}
		out, err := DecodeProductInfo(in.Encode())
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})

	t.Run("power only", func(t *testing.T) {
		in := PowerOnly{Channel: 3, EventCount: 200, Cadence: 95, AccumulatedPower: 0xFFFE, InstantaneousPower: 0x0FFF}
		b := in.Encode()
		assert.Equal(t, int(NumberPowerOnly), Number(b))
		out, err := DecodePowerOnly(b)
		require.NoError(t, err)
		assert.Equal(t, in, out.PowerOnly)
		assert.Equal(t, PedalPowerNotUsed, out.PedalPower)
	})

	t.Run("heart rate", func(t *testing.T) {
		in := HeartRate{Channel: 1, Number: NumberHRMManufacturer, Toggle: true, Specific: [3]byte{1, 2, 3}, BeatEventTime: 60000, BeatCount: 17, HeartRate: 142}
		b := in.Encode()
		assert.Equal(t, byte(0x82), b[1])
		out, err := DecodeHeartRate(b)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})

	t.Run("speed cadence", func(t *testing.T) {
		in := SpeedCadence{Channel: 6, CadenceEventTime: 1, CadenceEventCount: 0xFFFF, SpeedEventTime: 0x1234, SpeedEventCount: 9}
		out, err := DecodeSpeedCadence(in.Encode())
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})
}

func TestBatteryStatus_IgnoresCallerFields(t *testing.T) {
	b := BatteryStatus{Channel: 7}.Encode()
	assert.Equal(t, []byte{7, 82, 0xFF, 0x00, 0, 0, 0, 0x00, 0x1F}, b)

	out, err := DecodeBatteryStatus(b)
	require.NoError(t, err)
	assert.Equal(t, byte(7), out.Channel)
	assert.Equal(t, uint32(0), out.OperatingTime)
	assert.Equal(t, byte(0x1F), out.DescriptiveBitField)
}

func TestDecode_Errors(t *testing.T) {
	_, err := DecodeTargetPower([]byte{0, 49, 1})
	assert.ErrorIs(t, err, ErrShortPage)

	_, err = DecodeTargetPower(TrackResistance{}.Encode())
	assert.ErrorIs(t, err, ErrWrongPageNumber)

	_, err = DecodeSpeedCadence(nil)
	assert.ErrorIs(t, err, ErrShortPage)

	assert.Equal(t, -1, Number([]byte{0}))
}
