package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// maxMessageSize bounds one inbound WebSocket message.
const maxMessageSize = 1 << 20

// Handler returns the HTTP handler of the message transport. The identity
// is the path segment following [Config.MessagePath], e.g.
// /mic/<participant>/slin16.
func (g *Gateway) Handler() http.Handler {
	prefix := "/" + strings.Trim(g.cfg.MessagePath, "/")
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+prefix+"/{participant}", g.handleMessage)
	mux.HandleFunc("GET "+prefix+"/{participant}/{rest...}", g.handleMessage)
	mux.HandleFunc("GET "+prefix+"/{$}", g.handleMessage)
	return mux
}

// messageWire writes raw binary frames to a WebSocket.
type messageWire struct {
	ws *websocket.Conn
}

func (w messageWire) writeFrame(ctx context.Context, frame []byte) error {
	return w.ws.Write(ctx, websocket.MessageBinary, frame)
}

func (w messageWire) close() error {
	return w.ws.Close(websocket.StatusNormalClosure, "connection closed")
}

func (g *Gateway) handleMessage(w http.ResponseWriter, r *http.Request) {
	identity := r.PathValue("participant")
	if identity == "" {
		identity = uuid.NewString()
		slog.Warn("gateway: message connection without participant, generated identity", "identity", identity)
	}

	// Media clients are not browsers; there is no meaningful origin to check.
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		slog.Warn("gateway: websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	ws.SetReadLimit(maxMessageSize)

	c := g.register(TransportMessage, r.RemoteAddr, messageWire{ws: ws})
	reason := "closed"
	defer func() { g.unregister(c, reason) }()

	c.setIdentity(identity)
	slog.Info("gateway: handshake complete", "conn_id", c.id, "identity", identity)
	g.emit(HandshakeEvent{ConnectionID: c.id, Transport: TransportMessage, Identity: identity})

	ctx := r.Context()
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				reason = "peer_closed"
			case -1:
				if errors.Is(err, context.Canceled) {
					reason = "shutdown"
				} else {
					reason = "read_error"
					slog.Debug("gateway: websocket read ended", "conn_id", c.id, "err", err)
				}
			default:
				reason = "peer_closed"
			}
			return
		}
		if typ != websocket.MessageBinary {
			slog.Debug("gateway: ignoring text message", "conn_id", c.id, "bytes", len(data))
			c.touch(g.now())
			continue
		}
		g.ingest(c, data)
	}
}
