// Package calib holds the vocabulary shared by every part of the engine:
// correction kinds, store schema versions, per-pixel quantities, the
// index entries stores expose, and the vector sets they return.
package calib

import (
	"fmt"
	"strings"

	lev "github.com/agnivade/levenshtein"
)

// Kind identifies a correction type.
type Kind int

const (
	FittedDark Kind = iota + 1
	OrbitalDark
	Transmission
	WlsTransmission
	SunMeanReference
	SimuDark
	BadPixelMask
	PixelGain
)

var kindNames = map[Kind]string{
	FittedDark:       "fitted-dark",
	OrbitalDark:      "orbital-dark",
	Transmission:     "transmission",
	WlsTransmission:  "wls-transmission",
	SunMeanReference: "sun-mean-reference",
	SimuDark:         "simu-dark",
	BadPixelMask:     "bad-pixel-mask",
	PixelGain:        "pixel-gain",
}

// Kinds lists every kind in declaration order.
func Kinds() []Kind {
	return []Kind{
		FittedDark, OrbitalDark, Transmission, WlsTransmission,
		SunMeanReference, SimuDark, BadPixelMask, PixelGain,
	}
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Quantities lists the per-pixel vectors a record of this kind carries.
func (k Kind) Quantities() []Quantity {
	switch k {
	case FittedDark:
		return []Quantity{AnalogOffset, DarkCurrent, AnalogOffsetError, DarkCurrentError, MeanNoise, ChiSquare}
	case OrbitalDark:
		return []Quantity{DarkCurrent}
	case SimuDark:
		return []Quantity{AnalogOffset, DarkCurrent, AnalogOffsetError, DarkCurrentError, Amplitude, AmplitudeError}
	case Transmission, WlsTransmission:
		return []Quantity{TransmissionFactor}
	case SunMeanReference:
		return []Quantity{SunReference}
	case BadPixelMask:
		return []Quantity{PixelMask}
	case PixelGain:
		return []Quantity{GainFactor}
	}
	return nil
}

func (k Kind) MarshalText() ([]byte, error) {
	if _, ok := kindNames[k]; !ok {
		return nil, fmt.Errorf("unknown kind %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// ParseKind resolves a kind name. Unknown names get a suggestion for the
// closest known name.
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}

	best, bestDist := "", -1
	for _, k := range Kinds() {
		d := lev.ComputeDistance(name, k.String())
		if bestDist < 0 || d < bestDist {
			best, bestDist = k.String(), d
		}
	}
	if bestDist >= 0 && bestDist <= len(best)/2 {
		return 0, fmt.Errorf("unknown correction kind %q (did you mean %q?)", s, best)
	}
	return 0, fmt.Errorf("unknown correction kind %q", s)
}

// Version identifies an on-disk store schema.
type Version int

const (
	V1 Version = iota + 1 // flat binary records behind a catalog file
	V2                    // tabular container with a meta index
	V3                    // append-only packet log with an orbit list
)

// Versions lists the schema versions oldest first.
func Versions() []Version { return []Version{V1, V2, V3} }

func (v Version) String() string {
	switch v {
	case V1, V2, V3:
		return fmt.Sprintf("v%d", int(v))
	}
	return fmt.Sprintf("version(%d)", int(v))
}

func (v Version) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

func (v *Version) UnmarshalText(b []byte) error {
	p, err := ParseVersion(string(b))
	if err != nil {
		return err
	}
	*v = p
	return nil
}

// ParseVersion accepts "v1".."v3" or the bare digit.
func ParseVersion(s string) (Version, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "v1", "1":
		return V1, nil
	case "v2", "2":
		return V2, nil
	case "v3", "3":
		return V3, nil
	}
	return 0, fmt.Errorf("unknown store version %q", s)
}
