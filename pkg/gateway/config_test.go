package gateway

import (
	"testing"

	altsrc "github.com/urfave/cli-altsrc/v3"
)

func TestFlags(t *testing.T) {
	if len(Flags(altsrc.StringSourcer("config.toml"))) == 0 {
		t.Errorf("Flags() should never be nil or empty")
	}
}

func TestValidatePort(t *testing.T) {
	tests := []struct {
		name    string
		port    int
		wantErr bool
	}{
		{
			name: "min",
			port: 0,
		},
		{
			name: "default",
			port: DefaultWSPort,
		},
		{
			name: "max",
			port: 65535,
		},
		{
			name:    "negative",
			port:    -1,
			wantErr: true,
		},
		{
			name:    "too_big",
			port:    65536,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := validatePort(tt.port); (err != nil) != tt.wantErr {
				t.Errorf("validatePort(%d) error = %v, wantErr %v", tt.port, err, tt.wantErr)
			}
		})
	}
}
