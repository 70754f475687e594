// Package protocol turns inbound WebSocket payloads into log lines and
// acknowledgements.
//
// Every message goes through the same three steps, none of which can fail:
//
//  1. Decode: a Decoder converts the payload bytes to text. DecodeRaw uses the
//     whole buffer; DecodeNulTerminated stops at the first zero byte, which
//     tolerates clients that pad fixed-size frames with NULs.
//  2. Classify: Classify attempts a strict JSON parse. One JSON value
//     (object, array, number, string, boolean or null) surrounded by optional
//     whitespace is structured; anything else, including trailing data after
//     a valid value, is raw text and is returned unchanged.
//  3. Respond: a Responder builds the reply, either a fixed acknowledgement
//     or a label followed by the original payload.
//
// Pipeline ties the steps together and logs the classification:
//
//	p := protocol.NewPipeline(
//	    protocol.NewDecoder(protocol.DecodeNulTerminated),
//	    protocol.NewResponder(protocol.ResponseEchoPrefixed, "", ""),
//	    logger,
//	)
//	out := p.HandleMessage(remoteAddr, protocol.InboundMessage{
//	    Type:       websocket.BinaryMessage,
//	    Data:       payload,
//	    ReceivedAt: time.Now(),
//	})
//	// out.Response is written back on the same connection
//
// # Defaults
//
// The fixed acknowledgement is "Oh hey dude!" and the echo label is
// "You said: ".
// Responses use the same WebSocket message type as the request, so a client
// that only speaks binary frames gets binary frames back.
package protocol
