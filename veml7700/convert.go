package veml7700

import "fmt"

// Saturation correction polynomial, highest order first.
const (
	correctionC3 = 6.0135e-13
	correctionC2 = -9.3924e-9
	correctionC1 = 8.1488e-5
	correctionC0 = 1.0023
)

// Resolution returns lux per raw count for the given settings.
func Resolution(gain Gain, it IntegrationTime) (float64, error) {
	g := gain.Multiplier()
	ms := it.Milliseconds()
	if g <= 0 || ms <= 0 {
		return 0, fmt.Errorf("%w: gain %s, integration time %s", ErrInvalidArgument, gain, it)
	}
	return 0.0036 * (800.0 / ms) * (2.0 / g), nil
}

// ConvertRawToLux converts a raw ALS count to lux. When correction is set the
// non-linear high-illuminance correction from the application note is applied.
func ConvertRawToLux(raw uint16, gain Gain, it IntegrationTime, correction bool) (float64, error) {
	resolution, err := Resolution(gain, it)
	if err != nil {
		return 0, err
	}
	lux := float64(raw) * resolution
	if correction {
		lux = (((correctionC3*lux+correctionC2)*lux+correctionC1)*lux + correctionC0) * lux
	}
	return lux, nil
}
