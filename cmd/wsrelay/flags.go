package main

import (
	"time"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"

	"github.com/solvix/wsconn/pkg/websocket"
)

// Flags defines CLI flags to configure a WebSocket connection's runtime
// knobs. These flags can also be set using environment variables and
// the application's TOML configuration file.
func Flags(configFilePath altsrc.StringSourcer) []cli.Flag {
	return []cli.Flag{
		&cli.DurationFlag{
			Name:  "keep-alive-interval",
			Usage: "ping interval for the WebSocket keep-alive manager (0 disables it)",
			Value: websocket.DefaultKeepAliveInterval,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSRELAY_KEEP_ALIVE_INTERVAL"),
				toml.TOML("websocket.keep_alive_interval", configFilePath),
			),
		},
		&cli.IntFlag{
			Name:  "buffer-length",
			Usage: "receive buffer size in bytes",
			Value: websocket.DefaultBufferLength,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSRELAY_BUFFER_LENGTH"),
				toml.TOML("websocket.buffer_length", configFilePath),
			),
		},
		&cli.BoolFlag{
			Name:  "include-exception-in-close-response",
			Usage: "include the triggering error's message in the close reason sent to the peer",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSRELAY_INCLUDE_EXCEPTION_IN_CLOSE_RESPONSE"),
				toml.TOML("websocket.include_exception_in_close_response", configFilePath),
			),
		},
	}
}

func keepAliveInterval(cmd *cli.Command) time.Duration {
	return cmd.Duration("keep-alive-interval")
}

func bufferLength(cmd *cli.Command) int {
	return cmd.Int("buffer-length")
}

func includeExceptionInCloseResponse(cmd *cli.Command) bool {
	return cmd.Bool("include-exception-in-close-response")
}
