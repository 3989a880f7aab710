package main

import (
	"context"
	"net"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/solvix/wsconn/pkg/websocket"
)

// serve runs an HTTP server whose "/echo" handler accepts a WebSocket
// connection and echoes every message it receives back to the sender,
// until the peer closes the connection.
func serve(ctx context.Context, cmd *cli.Command) error {
	addr := cmd.String("addr")
	bufLen := bufferLength(cmd)

	mux := http.NewServeMux()
	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		handleEcho(w, r, cmd, bufLen)
	})

	log.Info().Str("addr", addr).Msg("starting WebSocket relay server")
	srv := &http.Server{Addr: addr, Handler: mux, BaseContext: func(net.Listener) context.Context { return ctx }}
	return srv.ListenAndServe()
}

func handleEcho(w http.ResponseWriter, r *http.Request, cmd *cli.Command, bufLen int) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r,
		websocket.WithAcceptKeepAliveInterval(keepAliveInterval(cmd)),
		websocket.WithAcceptIncludeExceptionInCloseResponse(includeExceptionInCloseResponse(cmd)))
	if err != nil {
		log.Error().Err(err).Msg("failed to accept WebSocket connection")
		return
	}
	defer conn.Dispose()

	buf := make([]byte, bufLen)
	for {
		res, err := conn.Receive(ctx, buf)
		if err != nil {
			log.Debug().Err(err).Str("conn", conn.Id()).Msg("receive loop ended")
			return
		}
		if res.Opcode == websocket.OpcodeClose {
			return
		}

		if err := conn.Send(ctx, buf[:res.N], res.Opcode, res.EndOfMessage); err != nil {
			log.Warn().Err(err).Str("conn", conn.Id()).Msg("failed to echo message")
			return
		}
	}
}
