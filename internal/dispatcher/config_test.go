package dispatcher

import (
	"testing"
	"time"
)

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   MemoryConfig
	}{
		{"zero values", MemoryConfig{}},
		{"negative values", MemoryConfig{BufferSize: -1, Workers: -1, HTTPTimeout: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := tt.in.withDefaults()
			if cfg.BufferSize != 10000 {
				t.Errorf("BufferSize = %d, want 10000", cfg.BufferSize)
			}
			if cfg.Workers != 10 {
				t.Errorf("Workers = %d, want 10", cfg.Workers)
			}
			if cfg.HTTPTimeout != 10*time.Second {
				t.Errorf("HTTPTimeout = %v, want 10s", cfg.HTTPTimeout)
			}
		})
	}
}

func TestConfigKeepsExplicitValues(t *testing.T) {
	t.Parallel()

	cfg := MemoryConfig{
		BufferSize:  500,
		Workers:     5,
		HTTPTimeout: 20 * time.Second,
	}.withDefaults()

	if cfg.BufferSize != 500 || cfg.Workers != 5 || cfg.HTTPTimeout != 20*time.Second {
		t.Errorf("explicit values overridden: %+v", cfg)
	}
}
