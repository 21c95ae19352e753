package config

import (
	"errors"
	"fmt"

	"github.com/large-farva/calibration-engine/internal/calib"
	"github.com/large-farva/calibration-engine/internal/orbit"
	"github.com/large-farva/calibration-engine/internal/store"
)

// KindSettings is the resolved lookup policy of one kind.
type KindSettings struct {
	Kind     calib.Kind      `json:"kind"`
	Search   orbit.Params    `json:"search"`
	Versions []calib.Version `json:"versions"`
	Required bool            `json:"required"`
}

type kindDefault struct {
	radius, minQuality, earlyExit int
	versions                      []calib.Version
}

// Simu-dark records are fitted per orbit, so only the exact orbit is used.
var kindDefaults = map[calib.Kind]kindDefault{
	calib.FittedDark:       {21, 40, 70, []calib.Version{calib.V3, calib.V2, calib.V1}},
	calib.OrbitalDark:      {50, 40, 40, []calib.Version{calib.V1}},
	calib.Transmission:     {100, 40, 40, []calib.Version{calib.V2, calib.V1}},
	calib.WlsTransmission:  {100, 40, 40, []calib.Version{calib.V2, calib.V1}},
	calib.SunMeanReference: {50, 40, 40, []calib.Version{calib.V2, calib.V1}},
	calib.SimuDark:         {0, 0, 0, []calib.Version{calib.V2}},
	calib.BadPixelMask:     {14, 10, 10, []calib.Version{calib.V2, calib.V1}},
	calib.PixelGain:        {100, 40, 40, []calib.Version{calib.V2, calib.V1}},
}

// Settings returns the lookup policy of k with file overrides applied. The
// config is assumed valid.
func (c Config) Settings(k calib.Kind) KindSettings {
	s, err := c.resolve(k)
	if err != nil {
		panic(fmt.Sprintf("config: %s: %v", k, err))
	}
	return s
}

func (c Config) resolve(k calib.Kind) (KindSettings, error) {
	d, ok := kindDefaults[k]
	if !ok {
		return KindSettings{}, fmt.Errorf("no defaults for %s", k)
	}
	prov, err := orbit.ParseProvenance(c.Selection.Provenance)
	if err != nil {
		return KindSettings{}, err
	}
	s := KindSettings{
		Kind: k,
		Search: orbit.Params{
			MaxRadius:  d.radius,
			MinQuality: d.minQuality,
			EarlyExit:  d.earlyExit,
			Provenance: prov,
		},
		Versions: d.versions,
	}

	o, ok := c.Kinds[k.String()]
	if ok {
		if o.MaxRadius != nil {
			s.Search.MaxRadius = *o.MaxRadius
		}
		if o.MinQuality != nil {
			s.Search.MinQuality = *o.MinQuality
		}
		if o.EarlyExit != nil {
			s.Search.EarlyExit = *o.EarlyExit
		}
		if o.Required != nil {
			s.Required = *o.Required
		}
		if len(o.Versions) > 0 {
			s.Versions = nil
			for _, name := range o.Versions {
				v, err := calib.ParseVersion(name)
				if err != nil {
					return KindSettings{}, err
				}
				if !store.Supports(v, k) {
					return KindSettings{}, fmt.Errorf("%s stores never carried %s", v, k)
				}
				s.Versions = append(s.Versions, v)
			}
		}
	}

	switch {
	case s.Search.MaxRadius < 0:
		return s, errors.New("max_radius must be >= 0")
	case s.Search.MinQuality < 0 || s.Search.MinQuality > 100:
		return s, errors.New("min_quality must be between 0 and 100")
	case s.Search.EarlyExit < s.Search.MinQuality:
		return s, errors.New("early_exit must be >= min_quality")
	}
	return s, nil
}

// AllSettings resolves every kind in declaration order.
func (c Config) AllSettings() []KindSettings {
	out := make([]KindSettings, 0, len(kindDefaults))
	for _, k := range calib.Kinds() {
		out = append(out, c.Settings(k))
	}
	return out
}
