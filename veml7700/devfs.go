package veml7700

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/exp/io/i2c"
	"tinygo.org/x/drivers"
)

var _ drivers.I2C = (*DevfsBus)(nil)

// DevfsBus is a drivers.I2C backed by a Linux i2c character device, e.g. /dev/i2c-1.
// One handle is opened per target address, on first use.
type DevfsBus struct {
	path    string
	devices map[uint16]*i2c.Device
	mu      sync.Mutex
}

func OpenDevfsBus(path string) *DevfsBus {
	if path == "" {
		// i2c-1 is the default I2C bus for the Raspberry Pi
		path = "/dev/i2c-1"
	}
	return &DevfsBus{path: path, devices: make(map[uint16]*i2c.Device)}
}

func (b *DevfsBus) device(addr uint16) (*i2c.Device, error) {
	if d, ok := b.devices[addr]; ok {
		return d, nil
	}
	d, err := i2c.Open(&i2c.Devfs{Dev: b.path}, int(addr))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", b.path, err)
	}
	b.devices[addr] = d
	return d, nil
}

// Tx writes w and then reads into r. A read is only supported after a single command byte,
// which is all the register protocol needs.
func (b *DevfsBus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	d, err := b.device(addr)
	if err != nil {
		return err
	}
	switch {
	case len(r) == 0:
		return d.Write(w)
	case len(w) == 1:
		return d.ReadReg(w[0], r)
	case len(w) == 0:
		return d.Read(r)
	default:
		return errors.New("devfs: combined write/read needs a single command byte")
	}
}

func (b *DevfsBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	for addr, d := range b.devices {
		if err := d.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(b.devices, addr)
	}
	return errors.Join(errs...)
}
