package veml7700

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"tinygo.org/x/drivers"
)

// Compile-time check.
var _ drivers.I2C = (*fakeBus)(nil)

var errBus = errors.New("nack")

// fakeBus emulates the VEML7700 register file. ALS data is produced by als from
// the gain and integration time currently held in the config register.
type fakeBus struct {
	mu        sync.Mutex
	regs      map[byte]uint16
	als       func(g Gain, it IntegrationTime) uint16
	failRead  map[byte]bool
	failWrite map[byte]bool
	writes    int
	alsReads  int
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		regs: map[byte]uint16{
			VEML7700_REGISTER_ALS_CONFIG: 0x0001,
			VEML7700_REGISTER_DEVICE_ID:  0xC481,
		},
		failRead:  map[byte]bool{},
		failWrite: map[byte]bool{},
	}
}

func (f *fakeBus) Tx(addr uint16, w, r []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if addr != VEML7700_ADDR || len(w) == 0 {
		return errBus
	}
	code := w[0]
	if len(r) == 0 {
		if f.failWrite[code] || len(w) != 3 {
			return errBus
		}
		f.regs[code] = binary.LittleEndian.Uint16(w[1:])
		f.writes++
		return nil
	}
	if f.failRead[code] || len(r) != 2 {
		return errBus
	}
	val := f.regs[code]
	if code == VEML7700_REGISTER_ALS_DATA && f.als != nil {
		cfg := f.regs[VEML7700_REGISTER_ALS_CONFIG]
		val = f.als(Gain((cfg&configGainMask)>>configGainShift), IntegrationTime((cfg&configIntegrationMask)>>configIntegShift))
		f.alsReads++
	}
	binary.LittleEndian.PutUint16(r, val)
	return nil
}

// newTestSensor returns an initialized driver on a fake bus that never sleeps.
func newTestSensor(bus *fakeBus) (*VEML7700, *[]time.Duration) {
	waits := &[]time.Duration{}
	v := NewVEML7700(bus, 0)
	v.sleep = func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
	return v, waits
}

// photons returns a generator whose output scales with sensitivity, saturating at 0xFFFF.
func photons(lux float64) func(Gain, IntegrationTime) uint16 {
	return func(g Gain, it IntegrationTime) uint16 {
		res, err := Resolution(g, it)
		if err != nil {
			return 0
		}
		counts := lux / res
		if counts > 0xFFFF {
			return 0xFFFF
		}
		return uint16(counts)
	}
}
