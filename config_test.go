package relay

import (
	"testing"
	"time"
)

func TestDefaultTimeouts(t *testing.T) {
	if DefaultTimeouts.PollInterval != 2*time.Second {
		t.Errorf("expected PollInterval to be 2s, got %v", DefaultTimeouts.PollInterval)
	}
	if DefaultTimeouts.GraceWindow != 2*time.Minute {
		t.Errorf("expected GraceWindow to be 2m, got %v", DefaultTimeouts.GraceWindow)
	}
	if err := DefaultTimeouts.Validate(); err != nil {
		t.Errorf("default timeouts should validate: %v", err)
	}
}

func TestTimeoutsValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Timeouts
		wantErr bool
	}{
		{
			name:    "valid config",
			config:  DefaultTimeouts,
			wantErr: false,
		},
		{
			name:    "zero grace window is allowed",
			config:  DefaultTimeouts.WithGraceWindow(0),
			wantErr: false,
		},
		{
			name:    "negative grace window",
			config:  DefaultTimeouts.WithGraceWindow(-time.Second),
			wantErr: true,
		},
		{
			name:    "zero poll interval",
			config:  DefaultTimeouts.WithPollInterval(0),
			wantErr: true,
		},
		{
			name: "zero rpc timeout",
			config: Timeouts{
				PollInterval:    time.Second,
				ShutdownTimeout: time.Second,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTimeoutsBuildersDoNotMutate(t *testing.T) {
	original := DefaultTimeouts
	_ = original.WithPollInterval(time.Millisecond)
	if original.PollInterval != DefaultTimeouts.PollInterval {
		t.Error("WithPollInterval mutated the receiver")
	}
}

func TestParseNonceMode(t *testing.T) {
	tests := []struct {
		in      string
		want    NonceMode
		wantErr bool
	}{
		{"sequential", NonceModeSequential, false},
		{"single-use", NonceModeSingleUse, false},
		{"", NonceModeSequential, false},
		{"random", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseNonceMode(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseNonceMode(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseNonceMode(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
