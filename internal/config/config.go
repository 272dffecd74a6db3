// Package config loads the named pool presets a simulation can create
// pools from.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/atmx/hyperdrive-engine/internal/fixedpoint"
	"github.com/atmx/hyperdrive-engine/internal/market"
	"github.com/atmx/hyperdrive-engine/internal/pricing"
)

type fp = fixedpoint.FixedPoint

// DefaultPreset names the preset used when a request names none.
const DefaultPreset = "default"

var (
	ErrUnknownPreset = errors.New("config: unknown preset")
	ErrInvalidPreset = errors.New("config: invalid preset")
)

// Preset holds the pool parameters shared by every pool created from it.
// The time stretch is not part of a preset; it is derived from the
// target APR each pool is initialized at.
type Preset struct {
	PricingModel   string `yaml:"pricing_model" json:"pricing_model"`
	TermDays       fp     `yaml:"term_days" json:"term_days"`
	CheckpointDays fp     `yaml:"checkpoint_days" json:"checkpoint_days"`

	CurveFeeMultiple      fp `yaml:"curve_fee_multiple" json:"curve_fee_multiple"`
	FlatFeeMultiple       fp `yaml:"flat_fee_multiple" json:"flat_fee_multiple"`
	GovernanceFeeMultiple fp `yaml:"governance_fee_multiple" json:"governance_fee_multiple"`

	InitSharePrice fp `yaml:"init_share_price" json:"init_share_price"`
	SharePrice     fp `yaml:"share_price" json:"share_price"`

	Pricing pricing.Config `yaml:",inline" json:"pricing"`
}

// Presets maps preset names to presets.
type Presets map[string]Preset

type file struct {
	Presets Presets `yaml:"presets"`
}

// Default returns the built-in presets: a 365-day term with daily
// checkpoints, no fees and a share price of 1.
func Default() Presets {
	return Presets{DefaultPreset: withDefaults(Preset{})}
}

// LoadPresets reads presets from a YAML file. An empty path yields the
// built-in presets. Missing fields take their built-in values.
func LoadPresets(path string) (Presets, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presets %s: %w", path, err)
	}
	return ParsePresets(data)
}

// ParsePresets decodes and validates a presets document.
func ParsePresets(data []byte) (Presets, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse presets: %w", err)
	}
	if len(f.Presets) == 0 {
		return nil, fmt.Errorf("%w: no presets defined", ErrInvalidPreset)
	}
	out := make(Presets, len(f.Presets))
	for name, p := range f.Presets {
		p = withDefaults(p)
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("preset %q: %w", name, err)
		}
		out[name] = p
	}
	return out, nil
}

func withDefaults(p Preset) Preset {
	if p.PricingModel == "" {
		p.PricingModel = "hyperdrive"
	}
	if p.TermDays.IsZero() {
		p.TermDays = fixedpoint.FromInt(365)
	}
	if p.CheckpointDays.IsZero() {
		p.CheckpointDays = fixedpoint.One
	}
	if p.InitSharePrice.IsZero() {
		p.InitSharePrice = fixedpoint.One
	}
	if p.SharePrice.IsZero() {
		p.SharePrice = p.InitSharePrice
	}
	def := pricing.DefaultConfig()
	if p.Pricing.WEI.IsZero() {
		p.Pricing.WEI = def.WEI
	}
	if p.Pricing.PrecisionThreshold.IsZero() {
		p.Pricing.PrecisionThreshold = def.PrecisionThreshold
	}
	if p.Pricing.MaxReservesDifference.IsZero() {
		p.Pricing.MaxReservesDifference = def.MaxReservesDifference
	}
	return p
}

// Validate checks the preset as a market config at a nominal 5% rate.
func (p Preset) Validate() error {
	if _, err := p.Model(); err != nil {
		return err
	}
	cfg, err := p.MarketConfig(fixedpoint.MustParse("0.05"))
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPreset, err)
	}
	return nil
}

// Model returns the pricing model the preset names.
func (p Preset) Model() (pricing.Model, error) {
	switch p.PricingModel {
	case "hyperdrive":
		return pricing.NewHyperdrive(p.Pricing), nil
	case "yieldspace":
		return pricing.NewYieldSpace(p.Pricing), nil
	default:
		return nil, fmt.Errorf("%w: pricing model %q", ErrInvalidPreset, p.PricingModel)
	}
}

// MarketConfig builds the config of a pool initialized at targetAPR.
func (p Preset) MarketConfig(targetAPR fp) (cfg market.Config, err error) {
	var ts fp
	if err := fixedpoint.Try(func() { ts = pricing.TimeStretch(targetAPR) }); err != nil {
		return cfg, fmt.Errorf("%w: time stretch for apr %s: %v", ErrInvalidPreset, targetAPR, err)
	}
	return market.Config{
		TermDays:              p.TermDays,
		CheckpointDays:        p.CheckpointDays,
		TimeStretch:           ts,
		CurveFeeMultiple:      p.CurveFeeMultiple,
		FlatFeeMultiple:       p.FlatFeeMultiple,
		GovernanceFeeMultiple: p.GovernanceFeeMultiple,
		InitSharePrice:        p.InitSharePrice,
		SharePrice:            p.SharePrice,
		Pricing:               p.Pricing,
	}, nil
}

// Get returns the named preset; an empty name selects DefaultPreset.
func (ps Presets) Get(name string) (Preset, error) {
	if name == "" {
		name = DefaultPreset
	}
	p, ok := ps[name]
	if !ok {
		return Preset{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return p, nil
}

// Names lists the preset names in order.
func (ps Presets) Names() []string {
	names := make([]string, 0, len(ps))
	for n := range ps {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
