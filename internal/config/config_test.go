package config

import (
	"flag"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := Load(fs, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	if cfg != want {
		t.Fatalf("expected defaults %+v, got %+v", want, cfg)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("MIC_GAIN", "3.5")
	t.Setenv("VOICE", "Samantha")
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := Load(fs, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MicGain != 3.5 {
		t.Fatalf("expected MicGain 3.5, got %v", cfg.MicGain)
	}
	if cfg.Voice != "Samantha" {
		t.Fatalf("expected Voice Samantha, got %v", cfg.Voice)
	}
}

func TestLoadFlagOverridesEnv(t *testing.T) {
	t.Setenv("VOICE", "Samantha")
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := Load(fs, []string{"-voice=Daniel"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Voice != "Daniel" {
		t.Fatalf("expected flag to win over env, got %v", cfg.Voice)
	}
}
