package main

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/rs/zerolog"
	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli/v3"

	"github.com/solvix/wsconn/internal/wslog"
)

func main() {
	bi, _ := debug.ReadBuildInfo()
	version := "(devel)"
	if bi != nil {
		version = bi.Main.Version
	}

	cmd := &cli.Command{
		Name:    "wsrelay",
		Usage:   "WebSocket relay server and client, built on pkg/websocket",
		Version: version,
		Flags:   mainFlags(),
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "accept WebSocket connections and echo messages back",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "addr", Value: ":8080", Usage: "address to listen on"},
				},
				Action: withLogger(serve),
			},
			{
				Name:  "connect",
				Usage: "dial a WebSocket server and relay messages to stdout",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "url", Usage: "WebSocket URL to dial (ws:// or wss://)"},
				},
				Action: withLogger(connect),
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

// mainFlags returns the flags shared by every subcommand: the
// connection-tuning flags from flags.go, sourced (in priority order)
// from explicit flags, environment variables, and the TOML file named
// by WSRELAY_CONFIG.
func mainFlags() []cli.Flag {
	fs := []cli.Flag{
		&cli.BoolFlag{
			Name:  "pretty-log",
			Usage: "human-readable console logging, instead of JSON",
		},
	}
	return append(fs, Flags(configFile())...)
}

// configFile resolves the TOML configuration path from WSRELAY_CONFIG.
// wsrelay has no single well-known install location, so the path is
// left to the caller's environment instead of being discovered.
func configFile() altsrc.StringSourcer {
	return altsrc.StringSourcer(os.Getenv("WSRELAY_CONFIG"))
}

// withLogger wraps a subcommand action with a zerolog logger stashed in
// the context, so the pkg/websocket connections that serve.go and
// connect.go open read it with [wslog.FromContext]. The subcommands'
// own log lines go through zerolog's global logger instead.
func withLogger(action cli.ActionFunc) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
		if cmd.Bool("pretty-log") {
			logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
		}
		return action(wslog.InContext(ctx, logger), cmd)
	}
}
