package calib

import "fmt"

// Quantity names a per-pixel vector inside a record.
type Quantity int

const (
	AnalogOffset Quantity = iota + 1
	DarkCurrent
	AnalogOffsetError
	DarkCurrentError
	MeanNoise
	ChiSquare
	Amplitude
	AmplitudeError
	TransmissionFactor
	SunReference
	GainFactor
	PixelMask
)

var quantityNames = map[Quantity]string{
	AnalogOffset:       "analog-offset",
	DarkCurrent:        "dark-current",
	AnalogOffsetError:  "analog-offset-error",
	DarkCurrentError:   "dark-current-error",
	MeanNoise:          "mean-noise",
	ChiSquare:          "chi-square",
	Amplitude:          "amplitude",
	AmplitudeError:     "amplitude-error",
	TransmissionFactor: "transmission",
	SunReference:       "sun-mean-reference",
	GainFactor:         "pixel-gain",
	PixelMask:          "pixel-mask",
}

func (q Quantity) String() string {
	if s, ok := quantityNames[q]; ok {
		return s
	}
	return fmt.Sprintf("quantity(%d)", int(q))
}

func (q Quantity) MarshalText() ([]byte, error) { return []byte(q.String()), nil }

func (q *Quantity) UnmarshalText(b []byte) error {
	for k, n := range quantityNames {
		if n == string(b) {
			*q = k
			return nil
		}
	}
	return fmt.Errorf("unknown quantity %q", string(b))
}
