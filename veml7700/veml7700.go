package veml7700

/*
 * veml7700 - Package for interacting with VEML7700 ambient light sensors.
 *
 * Ref:
 * https://www.vishay.com/docs/84286/veml7700.pdf
 * https://www.vishay.com/docs/84323/designingveml7700.pdf
 *
 */

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"tinygo.org/x/drivers"
)

var l *logrus.Logger

func init() {
	l = logrus.New()
	l.Formatter = &logrus.JSONFormatter{}
	l.SetOutput(os.Stdout)
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		l.SetLevel(logrus.DebugLevel)
	case "error":
		l.SetLevel(logrus.ErrorLevel)
	default:
		l.SetLevel(logrus.InfoLevel)
	}
}

// SetLogger replaces the package logger.
func SetLogger(logger *logrus.Logger) {
	if logger != nil {
		l = logger
	}
}

// VEML7700 drives one sensor. The embedded mutex serializes bus transactions and the register cache.
type VEML7700 struct {
	*Transport
	config    register
	powerSave register
	sleep     func(ctx context.Context, d time.Duration) error
	*sync.Mutex
}

// Reading is one auto-ranged measurement.
type Reading struct {
	Lux             float64         `json:"lux"`
	Raw             uint16          `json:"raw"`
	Gain            Gain            `json:"gain"`
	IntegrationTime IntegrationTime `json:"integrationTime"`
	Corrected       bool            `json:"corrected"`
	Steps           int             `json:"steps"`
}

// NewVEML7700 binds a driver to the sensor at addr on bus (0 selects the default address).
// The register cache is not valid until Initialize succeeds.
func NewVEML7700(bus drivers.I2C, addr uint16) *VEML7700 {
	return &VEML7700{
		Transport: NewTransport(bus, addr),
		config:    register{code: VEML7700_REGISTER_ALS_CONFIG},
		powerSave: register{code: VEML7700_REGISTER_POWER_SAVE},
		sleep:     sleepContext,
		Mutex:     &sync.Mutex{},
	}
}

// SetSleeper replaces the conversion wait, e.g. to drive the sensor from a simulated clock.
func (v *VEML7700) SetSleeper(fn func(ctx context.Context, d time.Duration) error) {
	v.Lock()
	defer v.Unlock()
	if fn == nil {
		fn = sleepContext
	}
	v.sleep = fn
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Initialize checks the device ID, seeds the register cache from hardware and
// applies the default measurement configuration.
func (v *VEML7700) Initialize() error {
	v.Lock()
	defer v.Unlock()

	id, err := v.ReadRegister(VEML7700_REGISTER_DEVICE_ID)
	if err != nil {
		return fmt.Errorf("failed to read device id: %w", err)
	}
	l.WithFields(logrus.Fields{
		"option_code": fmt.Sprintf("0x%02X", byte(id>>8)),
		"device_id":   fmt.Sprintf("0x%02X", byte(id)),
	}).Info("VEML7700 found")
	if byte(id) != VEML7700_DEVICE_ID {
		return fmt.Errorf("%w: 0x%04X", ErrUnexpectedDevice, id)
	}

	if err := v.sync(&v.config); err != nil {
		return fmt.Errorf("failed to read configuration register: %w", err)
	}
	if err := v.sync(&v.powerSave); err != nil {
		return fmt.Errorf("failed to read power save register: %w", err)
	}

	steps := []struct {
		name string
		do   func() error
	}{
		{"shutdown", func() error { return v.setField(v.shutdownField(), 1) }},
		{"disable interrupt", func() error { return v.setField(v.interruptField(), 0) }},
		{"persistence", func() error { return v.setField(v.persistenceField(), uint16(VEML7700_PERS_1)) }},
		{"gain", func() error { return v.setGain(VEML7700_GAIN_1_8) }},
		{"integration time", func() error { return v.setIntegrationTime(VEML7700_IT_100MS) }},
		{"disable power saving", func() error { return v.setField(v.powerSaveEnableField(), 0) }},
		{"power on", func() error { return v.setField(v.shutdownField(), 0) }},
	}
	for _, s := range steps {
		if err := s.do(); err != nil {
			return fmt.Errorf("initialize %s: %w", s.name, err)
		}
	}
	l.Info("VEML7700 initialized")
	return nil
}

// Release shuts the sensor down.
func (v *VEML7700) Release() error {
	return v.Shutdown()
}

// ReadMeasurement adjusts gain and integration time until the raw count is in a
// usable range, then converts it to lux. Any bus failure aborts the search.
func (v *VEML7700) ReadMeasurement(ctx context.Context) (Reading, error) {
	v.Lock()
	defer v.Unlock()

	gainIdx, itIdx := 0, 2
	lastGain, lastIT := len(gainSteps)-1, len(integrationSteps)-1
	reading := Reading{}

	if err := v.setGain(gainSteps[gainIdx]); err != nil {
		return Reading{}, err
	}
	if err := v.setIntegrationTime(integrationSteps[itIdx]); err != nil {
		return Reading{}, err
	}
	raw, err := v.readALS(ctx)
	if err != nil {
		return Reading{}, err
	}

	if raw <= VEML7700_LOW_THRESHOLD {
		for raw <= VEML7700_LOW_THRESHOLD && !(gainIdx == lastGain && itIdx == lastIT) {
			if gainIdx < lastGain {
				gainIdx++
				err = v.setGain(gainSteps[gainIdx])
			} else {
				itIdx++
				err = v.setIntegrationTime(integrationSteps[itIdx])
			}
			if err != nil {
				return Reading{}, err
			}
			if raw, err = v.readALS(ctx); err != nil {
				return Reading{}, err
			}
			reading.Steps++
		}
	} else {
		reading.Corrected = true
		for raw > VEML7700_HIGH_THRESHOLD && itIdx > 0 {
			itIdx--
			if err := v.setIntegrationTime(integrationSteps[itIdx]); err != nil {
				return Reading{}, err
			}
			if raw, err = v.readALS(ctx); err != nil {
				return Reading{}, err
			}
			reading.Steps++
		}
	}

	// Convert with the settings that produced the final sample.
	reading.Raw = raw
	reading.Gain = Gain(v.gainField().extract(v.config.value))
	reading.IntegrationTime = IntegrationTime(v.integrationField().extract(v.config.value))
	reading.Lux, err = ConvertRawToLux(raw, reading.Gain, reading.IntegrationTime, reading.Corrected)
	if err != nil {
		return Reading{}, err
	}
	l.WithFields(logrus.Fields{
		"raw":       raw,
		"gain":      reading.Gain.String(),
		"it":        reading.IntegrationTime.String(),
		"corrected": reading.Corrected,
		"steps":     reading.Steps,
	}).Debugf("Lux: %.4f", reading.Lux)
	return reading, nil
}

// waitForConversion blocks for twice the active integration time.
func (v *VEML7700) waitForConversion(ctx context.Context) error {
	it := IntegrationTime(v.integrationField().extract(v.config.value))
	ms := it.Milliseconds()
	if ms <= 0 {
		return nil
	}
	return v.sleep(ctx, time.Duration(ms*2)*time.Millisecond)
}

func (v *VEML7700) readALS(ctx context.Context) (uint16, error) {
	if err := v.waitForConversion(ctx); err != nil {
		return 0, err
	}
	return v.ReadRegister(VEML7700_REGISTER_ALS_DATA)
}

// WhiteChannel reads the white channel output after a full conversion.
func (v *VEML7700) WhiteChannel(ctx context.Context) (uint16, error) {
	v.Lock()
	defer v.Unlock()
	if err := v.waitForConversion(ctx); err != nil {
		return 0, err
	}
	return v.ReadRegister(VEML7700_REGISTER_WHITE_DATA)
}

// DeviceID returns the raw device ID register: option code in the high byte, ID in the low byte.
func (v *VEML7700) DeviceID() (uint16, error) {
	v.Lock()
	defer v.Unlock()
	return v.ReadRegister(VEML7700_REGISTER_DEVICE_ID)
}

// InterruptStatus returns the interrupt register (VEML7700_INTERRUPT_HIGH/LOW).
func (v *VEML7700) InterruptStatus() (uint16, error) {
	v.Lock()
	defer v.Unlock()
	return v.ReadRegister(VEML7700_REGISTER_INTERRUPT)
}

// ThresholdLow returns the raw low interrupt threshold.
func (v *VEML7700) ThresholdLow() (uint16, error) {
	v.Lock()
	defer v.Unlock()
	return v.ReadRegister(VEML7700_REGISTER_THRESHOLD_LOW)
}

// SetThresholdLow writes the raw low interrupt threshold.
func (v *VEML7700) SetThresholdLow(value uint16) error {
	v.Lock()
	defer v.Unlock()
	return v.WriteRegister(VEML7700_REGISTER_THRESHOLD_LOW, value)
}

// ThresholdHigh returns the raw high interrupt threshold.
func (v *VEML7700) ThresholdHigh() (uint16, error) {
	v.Lock()
	defer v.Unlock()
	return v.ReadRegister(VEML7700_REGISTER_THRESHOLD_HIGH)
}

// SetThresholdHigh writes the raw high interrupt threshold.
func (v *VEML7700) SetThresholdHigh(value uint16) error {
	v.Lock()
	defer v.Unlock()
	return v.WriteRegister(VEML7700_REGISTER_THRESHOLD_HIGH, value)
}
