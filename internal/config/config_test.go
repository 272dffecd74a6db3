package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/atmx/hyperdrive-engine/internal/config"
	"github.com/atmx/hyperdrive-engine/internal/fixedpoint"
)

func fp(s string) fixedpoint.FixedPoint {
	return fixedpoint.MustParse(s)
}

const presetsYAML = `
presets:
  default:
    term_days: 365
    checkpoint_days: 1
  fees:
    pricing_model: yieldspace
    term_days: "182.5"
    checkpoint_days: "0.5"
    curve_fee_multiple: "0.1"
    flat_fee_multiple: "0.05"
    governance_fee_multiple: "0.1"
    share_price: "1.05"
    max_reserves_difference: 1000
`

func TestParsePresets(t *testing.T) {
	ps, err := config.ParsePresets([]byte(presetsYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := ps.Names(); len(got) != 2 || got[0] != "default" || got[1] != "fees" {
		t.Fatalf("names = %v", got)
	}

	fees, err := ps.Get("fees")
	if err != nil {
		t.Fatal(err)
	}
	if !fees.TermDays.Eq(fp("182.5")) || !fees.CheckpointDays.Eq(fp("0.5")) {
		t.Errorf("term = %s, checkpoint = %s", fees.TermDays, fees.CheckpointDays)
	}
	if !fees.CurveFeeMultiple.Eq(fp("0.1")) || !fees.SharePrice.Eq(fp("1.05")) {
		t.Errorf("curve fee = %s, share price = %s", fees.CurveFeeMultiple, fees.SharePrice)
	}
	if !fees.InitSharePrice.Eq(fixedpoint.One) {
		t.Errorf("init share price = %s, want default 1", fees.InitSharePrice)
	}
	if !fees.Pricing.MaxReservesDifference.Eq(fp("1000")) || !fees.Pricing.WEI.Eq(fixedpoint.WEI) {
		t.Errorf("pricing = %+v", fees.Pricing)
	}
	m, err := fees.Model()
	if err != nil || m.ModelType() != "yieldspace" {
		t.Errorf("model = %v, %v", m, err)
	}
}

func TestParsePresets_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", "presets: {}\n"},
		{"misaligned", "presets:\n  bad:\n    term_days: 10\n    checkpoint_days: 3\n"},
		{"fee above one", "presets:\n  bad:\n    curve_fee_multiple: 2\n"},
		{"unknown model", "presets:\n  bad:\n    pricing_model: lmsr\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := config.ParsePresets([]byte(tc.doc)); !errors.Is(err, config.ErrInvalidPreset) {
				t.Errorf("expected ErrInvalidPreset, got %v", err)
			}
		})
	}
}

func TestLoadPresets(t *testing.T) {
	ps, err := config.LoadPresets("")
	if err != nil {
		t.Fatal(err)
	}
	def, err := ps.Get("")
	if err != nil {
		t.Fatal(err)
	}
	if !def.TermDays.Eq(fp("365")) || def.PricingModel != "hyperdrive" {
		t.Errorf("default preset = %+v", def)
	}

	path := filepath.Join(t.TempDir(), "presets.yaml")
	if err := os.WriteFile(path, []byte(presetsYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	ps, err = config.LoadPresets(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := ps.Get("missing"); !errors.Is(err, config.ErrUnknownPreset) {
		t.Errorf("expected ErrUnknownPreset, got %v", err)
	}
}

func TestMarketConfig(t *testing.T) {
	p, _ := config.Default().Get("")
	cfg, err := p.MarketConfig(fp("0.05"))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
	if _, err := p.MarketConfig(fixedpoint.Zero); !errors.Is(err, config.ErrInvalidPreset) {
		t.Errorf("zero apr: expected ErrInvalidPreset, got %v", err)
	}
}
