package gateway

import (
	"errors"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"
)

const (
	DefaultWSPort = 5772
)

// Flags defines CLI flags to configure the gateway's WebSocket listener.
// Usually these flags are set using environment variables or the
// application's configuration file.
func Flags(configFilePath altsrc.StringSourcer) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "ws-port",
			Usage: "loopback port number for WebSocket clients",
			Value: DefaultWSPort,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("NETDUCT_WS_PORT"),
				toml.TOML("gateway.ws_port", configFilePath),
			),
			Validator: validatePort,
		},
	}
}

func validatePort(p int) error {
	if p < 0 || p > 65535 {
		return errors.New("out of range [0-65535]")
	}
	return nil
}
