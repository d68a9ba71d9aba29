package veml7700

import "fmt"

// register mirrors one 16-bit hardware register. The value is only trusted once synced.
type register struct {
	code   byte
	value  uint16
	synced bool
}

// field is a named bit range of a register.
type field struct {
	name  string
	reg   *register
	mask  uint16
	shift uint
	max   uint16
}

func (f field) extract(v uint16) uint16 {
	return (v & f.mask) >> f.shift
}

func (f field) patch(v, val uint16) uint16 {
	return (v &^ f.mask) | ((val << f.shift) & f.mask)
}

func (v *VEML7700) shutdownField() field {
	return field{"shutdown", &v.config, configShutdownMask, configShutdownShift, 1}
}

func (v *VEML7700) interruptField() field {
	return field{"interrupt enable", &v.config, configInterruptMask, configInterruptShift, 1}
}

func (v *VEML7700) persistenceField() field {
	return field{"persistence", &v.config, configPersistMask, configPersistShift, 3}
}

func (v *VEML7700) integrationField() field {
	return field{"integration time", &v.config, configIntegrationMask, configIntegShift, 0x0F}
}

func (v *VEML7700) gainField() field {
	return field{"gain", &v.config, configGainMask, configGainShift, 3}
}

func (v *VEML7700) powerSaveEnableField() field {
	return field{"power saving enable", &v.powerSave, powerSaveEnableMask, powerSaveEnableShift, 1}
}

func (v *VEML7700) powerSaveModeField() field {
	return field{"power saving mode", &v.powerSave, powerSaveModeMask, powerSaveModeShift, 3}
}

// sync re-reads a register from hardware. On failure the cache is left untouched.
func (v *VEML7700) sync(reg *register) error {
	val, err := v.ReadRegister(reg.code)
	if err != nil {
		return err
	}
	reg.value = val
	reg.synced = true
	return nil
}

// setField writes the full register with one sub-field replaced. The cache is
// only updated once the write succeeded.
func (v *VEML7700) setField(f field, val uint16) error {
	if !f.reg.synced {
		return fmt.Errorf("%w: register 0x%02X was never read", ErrNotInitialized, f.reg.code)
	}
	if val > f.max {
		l.Infof("Exceeded value range: %s = %d", f.name, val)
		return fmt.Errorf("%w: %s = %d (max %d)", ErrInvalidArgument, f.name, val, f.max)
	}
	next := f.patch(f.reg.value, val)
	if err := v.WriteRegister(f.reg.code, next); err != nil {
		return err
	}
	f.reg.value = next
	return nil
}

func (v *VEML7700) getField(f field, readRegister bool) (uint16, error) {
	if readRegister {
		if err := v.sync(f.reg); err != nil {
			return 0, err
		}
	}
	if !f.reg.synced {
		return 0, fmt.Errorf("%w: register 0x%02X was never read", ErrNotInitialized, f.reg.code)
	}
	return f.extract(f.reg.value), nil
}

func boolToField(b bool) uint16 {
	if b {
		return 1
	}
	return 0
}

// Power the sensor on
func (v *VEML7700) PowerOn() error {
	v.Lock()
	defer v.Unlock()
	return v.setField(v.shutdownField(), 0)
}

// Shut the sensor down
func (v *VEML7700) Shutdown() error {
	v.Lock()
	defer v.Unlock()
	return v.setField(v.shutdownField(), 1)
}

// IsRunning reports whether the sensor is powered on.
func (v *VEML7700) IsRunning(readRegister bool) (bool, error) {
	v.Lock()
	defer v.Unlock()
	sd, err := v.getField(v.shutdownField(), readRegister)
	return err == nil && sd == 0, err
}

// Enable or disable the threshold interrupt
func (v *VEML7700) SetInterruptEnabled(enabled bool) error {
	v.Lock()
	defer v.Unlock()
	return v.setField(v.interruptField(), boolToField(enabled))
}

// InterruptEnabled reports whether the threshold interrupt is enabled.
func (v *VEML7700) InterruptEnabled(readRegister bool) (bool, error) {
	v.Lock()
	defer v.Unlock()
	en, err := v.getField(v.interruptField(), readRegister)
	return en == 1, err
}

// Set the interrupt persistence protect number (VEML7700_PERS_*)
func (v *VEML7700) SetPersistence(value uint8) error {
	v.Lock()
	defer v.Unlock()
	return v.setField(v.persistenceField(), uint16(value))
}

// Persistence returns the interrupt persistence code.
func (v *VEML7700) Persistence(readRegister bool) (uint8, error) {
	v.Lock()
	defer v.Unlock()
	p, err := v.getField(v.persistenceField(), readRegister)
	return uint8(p), err
}

// Set the integration time for the sensor. Only enumerated codes are accepted.
func (v *VEML7700) SetIntegrationTime(it IntegrationTime) error {
	v.Lock()
	defer v.Unlock()
	return v.setIntegrationTime(it)
}

func (v *VEML7700) setIntegrationTime(it IntegrationTime) error {
	if it.Milliseconds() < 0 {
		return fmt.Errorf("%w: integration time code 0x%02X", ErrInvalidArgument, uint8(it))
	}
	return v.setField(v.integrationField(), uint16(it))
}

// IntegrationTime returns the integration time code.
func (v *VEML7700) IntegrationTime(readRegister bool) (IntegrationTime, error) {
	v.Lock()
	defer v.Unlock()
	it, err := v.getField(v.integrationField(), readRegister)
	return IntegrationTime(it), err
}

// Set the gain for the sensor
func (v *VEML7700) SetGain(gain Gain) error {
	v.Lock()
	defer v.Unlock()
	return v.setGain(gain)
}

func (v *VEML7700) setGain(gain Gain) error {
	return v.setField(v.gainField(), uint16(gain))
}

// Gain returns the gain code.
func (v *VEML7700) Gain(readRegister bool) (Gain, error) {
	v.Lock()
	defer v.Unlock()
	g, err := v.getField(v.gainField(), readRegister)
	return Gain(g), err
}

// Enable or disable power saving mode
func (v *VEML7700) SetPowerSavingEnabled(enabled bool) error {
	v.Lock()
	defer v.Unlock()
	return v.setField(v.powerSaveEnableField(), boolToField(enabled))
}

// PowerSavingEnabled reports whether power saving is enabled.
func (v *VEML7700) PowerSavingEnabled(readRegister bool) (bool, error) {
	v.Lock()
	defer v.Unlock()
	en, err := v.getField(v.powerSaveEnableField(), readRegister)
	return en == 1, err
}

// Set the power saving mode (VEML7700_POWERSAVE_MODE*)
func (v *VEML7700) SetPowerSavingMode(mode uint8) error {
	v.Lock()
	defer v.Unlock()
	return v.setField(v.powerSaveModeField(), uint16(mode))
}

// PowerSavingMode returns the power saving mode code.
func (v *VEML7700) PowerSavingMode(readRegister bool) (uint8, error) {
	v.Lock()
	defer v.Unlock()
	m, err := v.getField(v.powerSaveModeField(), readRegister)
	return uint8(m), err
}

// Settings is a decoded view of the cached configuration and power save registers.
type Settings struct {
	Config             uint16          `json:"config"`
	PowerSave          uint16          `json:"powerSave"`
	Running            bool            `json:"running"`
	InterruptEnabled   bool            `json:"interruptEnabled"`
	Persistence        uint8           `json:"persistence"`
	IntegrationTime    IntegrationTime `json:"integrationTime"`
	Gain               Gain            `json:"gain"`
	PowerSavingEnabled bool            `json:"powerSavingEnabled"`
	PowerSavingMode    uint8           `json:"powerSavingMode"`
}

// Settings decodes the cached registers without touching the bus.
func (v *VEML7700) Settings() (Settings, error) {
	v.Lock()
	defer v.Unlock()
	if !v.config.synced || !v.powerSave.synced {
		return Settings{}, ErrNotInitialized
	}
	c, ps := v.config.value, v.powerSave.value
	return Settings{
		Config:             c,
		PowerSave:          ps,
		Running:            v.shutdownField().extract(c) == 0,
		InterruptEnabled:   v.interruptField().extract(c) == 1,
		Persistence:        uint8(v.persistenceField().extract(c)),
		IntegrationTime:    IntegrationTime(v.integrationField().extract(c)),
		Gain:               Gain(v.gainField().extract(c)),
		PowerSavingEnabled: v.powerSaveEnableField().extract(ps) == 1,
		PowerSavingMode:    uint8(v.powerSaveModeField().extract(ps)),
	}, nil
}
