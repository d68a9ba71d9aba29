package veml7700

import "strconv"

const (
	VEML7700_ADDR      uint16 = 0x10 ///< Default I2C address
	VEML7700_DEVICE_ID byte   = 0x81 ///< Low byte of the device ID register

	VEML7700_LOW_THRESHOLD  uint16 = 100   ///< Raw counts at or below this need more sensitivity
	VEML7700_HIGH_THRESHOLD uint16 = 10000 ///< Raw counts above this need a shorter integration time

	VEML7700_INTERRUPT_HIGH uint16 = 0x4000 ///< Interrupt status for high threshold
	VEML7700_INTERRUPT_LOW  uint16 = 0x8000 ///< Interrupt status for low threshold
)

// VEML7700 Register map
const (
	VEML7700_REGISTER_ALS_CONFIG     byte = 0x00 // Light configuration register
	VEML7700_REGISTER_THRESHOLD_HIGH byte = 0x01 // Light high threshold for irq
	VEML7700_REGISTER_THRESHOLD_LOW  byte = 0x02 // Light low threshold for irq
	VEML7700_REGISTER_POWER_SAVE     byte = 0x03 // Power save register
	VEML7700_REGISTER_ALS_DATA       byte = 0x04 // The light data output
	VEML7700_REGISTER_WHITE_DATA     byte = 0x05 // The white light data output
	VEML7700_REGISTER_INTERRUPT      byte = 0x06 // What IRQ (if any)
	VEML7700_REGISTER_DEVICE_ID      byte = 0x07 // Device ID
)

// Sub-field masks and shifts of the configuration and power save registers
const (
	configShutdownMask    uint16 = 0x0001
	configShutdownShift          = 0
	configInterruptMask   uint16 = 0x0002
	configInterruptShift         = 1
	configPersistMask     uint16 = 0x0030
	configPersistShift           = 4
	configIntegrationMask uint16 = 0x03C0
	configIntegShift             = 6
	configGainMask        uint16 = 0x1800
	configGainShift              = 11

	powerSaveEnableMask  uint16 = 0x0001
	powerSaveEnableShift        = 0
	powerSaveModeMask    uint16 = 0x0006
	powerSaveModeShift          = 1
)

// Gain is the ALS gain code as stored in the configuration register.
type Gain uint8

// Constants for adjusting the sensor gain
const (
	VEML7700_GAIN_1   Gain = 0x00 /// ALS gain 1x
	VEML7700_GAIN_2   Gain = 0x01 /// ALS gain 2x
	VEML7700_GAIN_1_8 Gain = 0x02 /// ALS gain 1/8x
	VEML7700_GAIN_1_4 Gain = 0x03 /// ALS gain 1/4x
)

// IntegrationTime is the ALS integration time code as stored in the configuration register.
type IntegrationTime uint8

// Constants for adjusting the sensor integration timing
const (
	VEML7700_IT_100MS IntegrationTime = 0x00 // 100 millis
	VEML7700_IT_200MS IntegrationTime = 0x01 // 200 millis
	VEML7700_IT_400MS IntegrationTime = 0x02 // 400 millis
	VEML7700_IT_800MS IntegrationTime = 0x03 // 800 millis
	VEML7700_IT_50MS  IntegrationTime = 0x08 // 50 millis
	VEML7700_IT_25MS  IntegrationTime = 0x0C // 25 millis
)

// Interrupt persistence, in samples
const (
	VEML7700_PERS_1 uint8 = 0x00
	VEML7700_PERS_2 uint8 = 0x01
	VEML7700_PERS_4 uint8 = 0x02
	VEML7700_PERS_8 uint8 = 0x03
)

// Power saving modes
const (
	VEML7700_POWERSAVE_MODE1 uint8 = 0x00
	VEML7700_POWERSAVE_MODE2 uint8 = 0x01
	VEML7700_POWERSAVE_MODE3 uint8 = 0x02
	VEML7700_POWERSAVE_MODE4 uint8 = 0x03
)

// Auto-ranging search order, least to most sensitive.
var (
	gainSteps        = []Gain{VEML7700_GAIN_1_8, VEML7700_GAIN_1_4, VEML7700_GAIN_1, VEML7700_GAIN_2}
	integrationSteps = []IntegrationTime{VEML7700_IT_25MS, VEML7700_IT_50MS, VEML7700_IT_100MS, VEML7700_IT_200MS, VEML7700_IT_400MS, VEML7700_IT_800MS}
)

// Multiplier returns the real gain factor, or -1 for an unmapped code.
func (g Gain) Multiplier() float64 {
	switch g {
	case VEML7700_GAIN_1_8:
		return 0.125
	case VEML7700_GAIN_1_4:
		return 0.25
	case VEML7700_GAIN_1:
		return 1.0
	case VEML7700_GAIN_2:
		return 2.0
	default:
		return -1
	}
}

func (g Gain) String() string {
	switch g {
	case VEML7700_GAIN_1_8:
		return "1/8x"
	case VEML7700_GAIN_1_4:
		return "1/4x"
	case VEML7700_GAIN_1:
		return "1x"
	case VEML7700_GAIN_2:
		return "2x"
	default:
		return "Unknown"
	}
}

// Milliseconds returns the integration time in ms, or -1 for an unmapped code.
func (it IntegrationTime) Milliseconds() float64 {
	switch it {
	case VEML7700_IT_25MS:
		return 25
	case VEML7700_IT_50MS:
		return 50
	case VEML7700_IT_100MS:
		return 100
	case VEML7700_IT_200MS:
		return 200
	case VEML7700_IT_400MS:
		return 400
	case VEML7700_IT_800MS:
		return 800
	default:
		return -1
	}
}

func (it IntegrationTime) String() string {
	ms := it.Milliseconds()
	if ms < 0 {
		return "Unknown"
	}
	return strconv.Itoa(int(ms)) + "ms"
}
