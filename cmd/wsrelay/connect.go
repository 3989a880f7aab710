package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/solvix/wsconn/pkg/websocket"
)

// connect dials a WebSocket server through a [websocket.ClientPool]
// registered under the URL, sends one JSON ping message, and logs every
// message the pool relays. The pool registry lives in this process
// only, so each invocation dials its own connection. The pool redials
// when a connection ends and never closes its message channel, so the
// loop below does not return on its own.
func connect(ctx context.Context, cmd *cli.Command) error {
	target := cmd.String("url")
	if target == "" {
		return fmt.Errorf("connect: --url is required")
	}

	opts := []websocket.DialOpt{
		websocket.WithKeepAliveInterval(keepAliveInterval(cmd)),
		websocket.WithIncludeExceptionInCloseResponse(includeExceptionInCloseResponse(cmd)),
	}

	pool, err := websocket.NewOrCachedClientPool(ctx, target,
		func(context.Context) (string, error) { return target, nil }, opts...)
	if err != nil {
		return fmt.Errorf("connect: failed to dial %s: %w", target, err)
	}

	if err := pool.SendJSON(ctx, map[string]string{"type": "ping"}); err != nil {
		return fmt.Errorf("connect: failed to send message: %w", err)
	}

	for msg := range pool.IncomingMessages() {
		log.Info().Str("opcode", msg.Opcode.String()).Bytes("data", msg.Data).Msg("received message")
	}
	return nil
}
