package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
)

// wsTransport implements Transport over a real *websocket.Conn, grounded on
// the Read/Write/Close call shape the teacher's pkg/providers/tts/lokutor.go
// uses as a websocket *client*, and on the server-side websocket.Accept call
// the teacher's own pkg/providers/tts/lokutor_test.go uses to stand up a
// fake TTS backend for its tests.
type wsTransport struct {
	conn       *websocket.Conn
	remoteAddr string
}

// AcceptTransport upgrades an inbound HTTP request to a WebSocket and wraps
// it as a Transport. originPatterns follows websocket.AcceptOptions'
// same-origin allowlist; pass nil to accept only same-origin requests.
func AcceptTransport(w http.ResponseWriter, r *http.Request, originPatterns []string) (Transport, error) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: websocket accept: %w", err)
	}
	return &wsTransport{conn: conn, remoteAddr: r.RemoteAddr}, nil
}

func (t *wsTransport) Read(ctx context.Context) (MessageKind, []byte, error) {
	kind, data, err := t.conn.Read(ctx)
	if err != nil {
		return 0, nil, err
	}
	if kind == websocket.MessageBinary {
		return KindBinary, data, nil
	}
	return KindText, data, nil
}

func (t *wsTransport) WriteText(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) WriteBinary(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageBinary, data)
}

func (t *wsTransport) Close(reason string) error {
	return t.conn.Close(websocket.StatusNormalClosure, reason)
}

func (t *wsTransport) RemoteAddr() string {
	return t.remoteAddr
}

var _ Transport = (*wsTransport)(nil)
