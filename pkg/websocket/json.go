package websocket

import (
	"context"
	"encoding/json"
	"fmt"
)

// SendJSON marshals v and sends it as a single, unfragmented text
// message.
func (c *Conn) SendJSON(ctx context.Context, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("websocket: failed to marshal JSON message: %w", err)
	}
	return c.Send(ctx, b, OpcodeText, true)
}

// ReceiveJSON reads one complete message with [Conn.Receive], appending
// each frame's payload from buf to a separate message slice across
// continuation frames, and unmarshals the result into v. buf itself is
// not grown, so it must hold the largest single frame. It is the symmetrical counterpart of [Conn.SendJSON]; ws
// messages arriving as OpcodeClose are returned as-is via res so the
// caller can distinguish a close from a decode failure.
func (c *Conn) ReceiveJSON(ctx context.Context, buf []byte, v any) (ReceiveResult, error) {
	var msg []byte

	for {
		res, err := c.Receive(ctx, buf)
		if err != nil {
			return ReceiveResult{}, err
		}
		if res.Opcode == OpcodeClose {
			return res, nil
		}

		msg = append(msg, buf[:res.N]...)
		if res.EndOfMessage {
			res.N = len(msg)
			if err := json.Unmarshal(msg, v); err != nil {
				return res, fmt.Errorf("websocket: failed to unmarshal JSON message: %w", err)
			}
			return res, nil
		}
	}
}
