package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
)

// Frame is one fully-read logical message: a header and, if
// PayloadLength was non-zero, its binary payload. A legacy raw binary
// frame with no header is represented as a synthetic audio-chunk header
// (§4.4 "Raw binary without a header").
type Frame struct {
	Header  Header
	Payload []byte
}

// ReadFrame reads one logical message from conn (§4.4 framed protocol).
func ReadFrame(conn *websocket.Conn) (Frame, error) {
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		return Frame{}, fmt.Errorf("reading websocket message: %w", err)
	}

	if msgType == websocket.BinaryMessage {
		return Frame{
			Header: Header{Type: TypeAudioChunk, PayloadLength: len(data)},
			Payload: data,
		}, nil
	}

	var header Header
	if err := json.Unmarshal(trimTrailingNewline(data), &header); err != nil {
		return Frame{}, fmt.Errorf("parsing frame header: %w", err)
	}

	frame := Frame{Header: header}
	if header.PayloadLength > 0 {
		payloadType, payload, err := conn.ReadMessage()
		if err != nil {
			return Frame{}, fmt.Errorf("reading frame payload: %w", err)
		}
		if payloadType != websocket.BinaryMessage {
			return Frame{}, fmt.Errorf("expected binary payload frame, got type %d", payloadType)
		}
		if len(payload) != header.PayloadLength {
			return Frame{}, fmt.Errorf("payload length mismatch: header said %d, got %d", header.PayloadLength, len(payload))
		}
		frame.Payload = payload
	}

	return frame, nil
}

func trimTrailingNewline(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\n' {
		return b[:n-1]
	}
	return b
}

// WriteHeader sends a JSON header as a text frame.
func WriteHeader(conn *websocket.Conn, h Header) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("marshalling header: %w", err)
	}
	data = append(data, '\n')
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("writing header frame: %w", err)
	}
	return nil
}

// WriteMessage sends a typed server-pushed JSON message with no binary
// payload (ready, interim_transcript, error — §6.2).
func WriteMessage(conn *websocket.Conn, msgType MessageType, data interface{}) error {
	raw, err := EncodeMessage(msgType, data)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("writing message frame: %w", err)
	}
	return nil
}

// EncodeMessage builds the exact bytes WriteMessage would send over the
// wire (header JSON + trailing newline), without needing a live
// connection. The Streaming Transcription Consumer (C6) publishes these
// bytes directly onto the interim pub/sub topic so the gateway's
// forwardInterim can relay them unmodified (§4.4.1 step 4).
func EncodeMessage(msgType MessageType, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshalling message data: %w", err)
	}
	header, err := json.Marshal(Header{Type: msgType, Data: raw})
	if err != nil {
		return nil, fmt.Errorf("marshalling header: %w", err)
	}
	return append(header, '\n'), nil
}

// WriteFramedPayload sends a header announcing payload_length followed
// by the binary payload itself.
func WriteFramedPayload(conn *websocket.Conn, h Header, payload []byte) error {
	h.PayloadLength = len(payload)
	if err := WriteHeader(conn, h); err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		return fmt.Errorf("writing payload frame: %w", err)
	}
	return nil
}
