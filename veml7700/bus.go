package veml7700

import (
	"encoding/binary"
	"fmt"

	"tinygo.org/x/drivers"
)

// Transport issues byte level transactions against a fixed bus address.
type Transport struct {
	bus  drivers.I2C
	addr uint16
}

// NewTransport targets addr on bus. Zero selects VEML7700_ADDR.
func NewTransport(bus drivers.I2C, addr uint16) *Transport {
	if addr == 0 {
		addr = VEML7700_ADDR
	}
	return &Transport{bus: bus, addr: addr}
}

// WriteBytes writes w to the device in one transaction.
func (t *Transport) WriteBytes(w []byte) error {
	if t == nil || t.bus == nil {
		return ErrNotInitialized
	}
	if err := t.bus.Tx(t.addr, w, nil); err != nil {
		return fmt.Errorf("%w: write 0x%02X: %v", ErrTransport, t.addr, err)
	}
	return nil
}

// WriteAndReadBytes writes w, then fills r in the same transaction.
func (t *Transport) WriteAndReadBytes(w, r []byte) error {
	if t == nil || t.bus == nil {
		return ErrNotInitialized
	}
	if err := t.bus.Tx(t.addr, w, r); err != nil {
		return fmt.Errorf("%w: write/read 0x%02X: %v", ErrTransport, t.addr, err)
	}
	return nil
}

// ReadRegister writes the command code, then reads two data bytes, low byte first.
func (t *Transport) ReadRegister(code byte) (uint16, error) {
	buf := make([]byte, 2)
	if err := t.WriteAndReadBytes([]byte{code}, buf); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf), nil
}

// WriteRegister writes the command code followed by the value, low byte first.
func (t *Transport) WriteRegister(code byte, value uint16) error {
	return t.WriteBytes([]byte{code, byte(value), byte(value >> 8)})
}
