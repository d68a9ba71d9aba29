package veml7700

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetterBeforeInitializeFails(t *testing.T) {
	bus := newFakeBus()
	v, _ := newTestSensor(bus)

	err := v.SetGain(VEML7700_GAIN_2)
	require.ErrorIs(t, err, ErrNotInitialized)
	assert.Zero(t, bus.writes)

	_, err = v.Gain(false)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestInitializeConfiguresSensor(t *testing.T) {
	bus := newFakeBus()
	bus.regs[VEML7700_REGISTER_POWER_SAVE] = 0x0007
	v, _ := newTestSensor(bus)
	require.NoError(t, v.Initialize())

	s, err := v.Settings()
	require.NoError(t, err)
	assert.True(t, s.Running)
	assert.False(t, s.InterruptEnabled)
	assert.Equal(t, VEML7700_PERS_1, s.Persistence)
	assert.Equal(t, VEML7700_GAIN_1_8, s.Gain)
	assert.Equal(t, VEML7700_IT_100MS, s.IntegrationTime)
	assert.False(t, s.PowerSavingEnabled)
	// mode bits were preserved from hardware
	assert.Equal(t, VEML7700_POWERSAVE_MODE4, s.PowerSavingMode)
	assert.Equal(t, s.Config, bus.regs[VEML7700_REGISTER_ALS_CONFIG])
	assert.Equal(t, s.PowerSave, bus.regs[VEML7700_REGISTER_POWER_SAVE])
}

func TestInitializeRejectsUnknownDevice(t *testing.T) {
	bus := newFakeBus()
	bus.regs[VEML7700_REGISTER_DEVICE_ID] = 0xC450
	v, _ := newTestSensor(bus)
	assert.ErrorIs(t, v.Initialize(), ErrUnexpectedDevice)
}

func TestInitializeMissingBus(t *testing.T) {
	v := NewVEML7700(nil, 0)
	assert.ErrorIs(t, v.Initialize(), ErrNotInitialized)
}

func TestFieldRoundTripDoesNotDisturbOthers(t *testing.T) {
	type accessor struct {
		name string
		max  uint16
		set  func(v *VEML7700, val uint16) error
		get  func(v *VEML7700) (uint16, error)
	}
	boolGet := func(fn func(*VEML7700) (bool, error)) func(*VEML7700) (uint16, error) {
		return func(v *VEML7700) (uint16, error) {
			b, err := fn(v)
			return boolToField(b), err
		}
	}
	accessors := []accessor{
		{"running", 1,
			func(v *VEML7700, val uint16) error {
				if val == 1 {
					return v.PowerOn()
				}
				return v.Shutdown()
			},
			boolGet(func(v *VEML7700) (bool, error) { return v.IsRunning(false) })},
		{"interrupt", 1,
			func(v *VEML7700, val uint16) error { return v.SetInterruptEnabled(val == 1) },
			boolGet(func(v *VEML7700) (bool, error) { return v.InterruptEnabled(false) })},
		{"persistence", 3,
			func(v *VEML7700, val uint16) error { return v.SetPersistence(uint8(val)) },
			func(v *VEML7700) (uint16, error) { p, err := v.Persistence(false); return uint16(p), err }},
		{"gain", 3,
			func(v *VEML7700, val uint16) error { return v.SetGain(Gain(val)) },
			func(v *VEML7700) (uint16, error) { g, err := v.Gain(false); return uint16(g), err }},
		{"power saving", 1,
			func(v *VEML7700, val uint16) error { return v.SetPowerSavingEnabled(val == 1) },
			boolGet(func(v *VEML7700) (bool, error) { return v.PowerSavingEnabled(false) })},
		{"power saving mode", 3,
			func(v *VEML7700, val uint16) error { return v.SetPowerSavingMode(uint8(val)) },
			func(v *VEML7700) (uint16, error) { m, err := v.PowerSavingMode(false); return uint16(m), err }},
	}

	for _, a := range accessors {
		for val := uint16(0); val <= a.max; val++ {
			bus := newFakeBus()
			bus.regs[VEML7700_REGISTER_ALS_CONFIG] = 0xFFFF
			bus.regs[VEML7700_REGISTER_POWER_SAVE] = 0xFFFF
			v, _ := newTestSensor(bus)
			require.NoError(t, v.sync(&v.config))
			require.NoError(t, v.sync(&v.powerSave))

			before := map[string]uint16{}
			for _, other := range accessors {
				before[other.name], _ = other.get(v)
			}

			require.NoError(t, a.set(v, val), "%s=%d", a.name, val)
			got, err := a.get(v)
			require.NoError(t, err)
			assert.Equal(t, val, got, "%s=%d", a.name, val)

			for _, other := range accessors {
				if other.name == a.name {
					continue
				}
				after, _ := other.get(v)
				assert.Equal(t, before[other.name], after, "%s changed after setting %s=%d", other.name, a.name, val)
			}
			// reserved bits stay set
			assert.Equal(t, uint16(0xE40C), bus.regs[VEML7700_REGISTER_ALS_CONFIG]&0xE40C)
		}
	}
}

func TestIntegrationTimeRoundTrip(t *testing.T) {
	bus := newFakeBus()
	v, _ := newTestSensor(bus)
	require.NoError(t, v.Initialize())
	for _, it := range integrationSteps {
		require.NoError(t, v.SetIntegrationTime(it))
		got, err := v.IntegrationTime(true)
		require.NoError(t, err)
		assert.Equal(t, it, got)
		g, err := v.Gain(false)
		require.NoError(t, err)
		assert.Equal(t, VEML7700_GAIN_1_8, g)
	}
}

func TestOutOfRangeLeavesCacheUntouched(t *testing.T) {
	bus := newFakeBus()
	v, _ := newTestSensor(bus)
	require.NoError(t, v.Initialize())
	cfg, ps, writes := v.config.value, v.powerSave.value, bus.writes

	assert.ErrorIs(t, v.SetPersistence(4), ErrInvalidArgument)
	assert.ErrorIs(t, v.SetGain(Gain(4)), ErrInvalidArgument)
	assert.ErrorIs(t, v.SetPowerSavingMode(4), ErrInvalidArgument)
	assert.ErrorIs(t, v.SetIntegrationTime(IntegrationTime(0x04)), ErrInvalidArgument)

	assert.Equal(t, cfg, v.config.value)
	assert.Equal(t, ps, v.powerSave.value)
	assert.Equal(t, writes, bus.writes)
}

func TestWriteFailureLeavesCacheUntouched(t *testing.T) {
	bus := newFakeBus()
	v, _ := newTestSensor(bus)
	require.NoError(t, v.Initialize())
	cfg := v.config.value

	bus.failWrite[VEML7700_REGISTER_ALS_CONFIG] = true
	err := v.SetGain(VEML7700_GAIN_2)
	require.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, cfg, v.config.value)

	g, err := v.Gain(false)
	require.NoError(t, err)
	assert.Equal(t, VEML7700_GAIN_1_8, g)
}

func TestGetterReadRegister(t *testing.T) {
	bus := newFakeBus()
	v, _ := newTestSensor(bus)
	require.NoError(t, v.Initialize())

	// hardware changed behind our back
	bus.regs[VEML7700_REGISTER_ALS_CONFIG] = uint16(VEML7700_GAIN_2) << configGainShift

	g, err := v.Gain(false)
	require.NoError(t, err)
	assert.Equal(t, VEML7700_GAIN_1_8, g)

	g, err = v.Gain(true)
	require.NoError(t, err)
	assert.Equal(t, VEML7700_GAIN_2, g)

	bus.failRead[VEML7700_REGISTER_ALS_CONFIG] = true
	before := v.config.value
	_, err = v.Gain(true)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, before, v.config.value)
}

func TestTransportLittleEndian(t *testing.T) {
	bus := newFakeBus()
	tr := NewTransport(bus, 0)
	require.NoError(t, tr.WriteRegister(VEML7700_REGISTER_THRESHOLD_HIGH, 0x1234))
	assert.Equal(t, uint16(0x1234), bus.regs[VEML7700_REGISTER_THRESHOLD_HIGH])

	id, err := tr.ReadRegister(VEML7700_REGISTER_DEVICE_ID)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xC481), id)
}
