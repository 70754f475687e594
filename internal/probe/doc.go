// Package probe is a small WebSocket client for smoke-testing a wsinspect
// server, or any other echo-style WebSocket endpoint.
//
// It replays the classic sequence: connect, send a short JSON message, send
// a long one, ping, and close, checking that every step is answered:
//
//	c, err := probe.Dial(ctx, "ws://localhost:8000/", probe.Options{})
//	if err != nil {
//	    return err
//	}
//	reply, err := c.Exchange(ctx, []byte(probe.ShortMessage))
//	rtt, err := c.Ping(ctx)
//	err = c.Close(ctx)
//
// NulPad reproduces clients that send fixed-size, zero-padded buffers.
package probe
