package config

import (
	"testing"
	"time"
)

func TestExportDuration(t *testing.T) {
	cfg := AlertConfig{DefaultClipMsec: 60000}

	testCases := []struct {
		name      string
		alertMsec int
		want      int
	}{
		{"Normal duration", 45000, 45000},
		{"Exactly at cap", 60000, 60000},
		{"Zero falls back", 0, 60000},
		{"Negative falls back", -5, 60000},
		{"Over cap falls back", 120000, 60000},
		{"One millisecond", 1, 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := cfg.ExportDuration(tc.alertMsec); got != tc.want {
				t.Fatalf("ExportDuration(%d) = %d, want %d", tc.alertMsec, got, tc.want)
			}
		})
	}
}

func TestEffectiveLookback(t *testing.T) {
	cfg := &Config{
		Alert: AlertConfig{Lookback: 60 * time.Second, DebugLookback: 17400 * time.Second},
	}
	if got := cfg.EffectiveLookback(); got != 60*time.Second {
		t.Fatalf("normal lookback = %s, want 60s", got)
	}
	cfg.Debug = true
	if got := cfg.EffectiveLookback(); got != 17400*time.Second {
		t.Fatalf("debug lookback = %s, want 17400s", got)
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("TEST_DUR_GO", "90s")
	if got := getEnvDuration("TEST_DUR_GO", time.Second); got != 90*time.Second {
		t.Fatalf("duration string parse = %s, want 90s", got)
	}

	t.Setenv("TEST_DUR_SECS", "45")
	if got := getEnvDuration("TEST_DUR_SECS", time.Second); got != 45*time.Second {
		t.Fatalf("bare seconds parse = %s, want 45s", got)
	}

	if got := getEnvDuration("TEST_DUR_MISSING", 7*time.Second); got != 7*time.Second {
		t.Fatalf("missing var = %s, want default 7s", got)
	}
}
