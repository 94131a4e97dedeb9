package http

import (
	"context"
	"encoding/json"
	"errors"
	stdhttp "net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/vovakirdan/staffchat-server/internal/auth"
	"github.com/vovakirdan/staffchat-server/internal/config"
	"github.com/vovakirdan/staffchat-server/internal/core"
	"github.com/vovakirdan/staffchat-server/internal/proto"
)

// WSHandler authenticates, upgrades and bridges connections to the hub.
type WSHandler struct {
	hub         *core.Hub
	authService *auth.Service
	limiter     *rate.Limiter
	readLimit   int64
	log         *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, authService *auth.Service, cfg *config.Config, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{
		hub:         hub,
		authService: authService,
		limiter:     newHandshakeLimiter(cfg.Handshake.RatePerSecond, cfg.Handshake.Burst),
		readLimit:   cfg.Hub.MaxMessageBytes,
		log:         logger,
	}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	if !allowHandshake(h.limiter) {
		writeJSONError(w, stdhttp.StatusTooManyRequests, "too many connection attempts")
		return
	}

	identity, err := h.authService.Authenticate(r.Context(), tokenFromRequest(r))
	if err != nil {
		h.log.Debug().Err(err).Msg("ws handshake rejected")
		writeJSONError(w, stdhttp.StatusUnauthorized, "invalid token")
		return
	}

	version := proto.ProtocolVersion
	if v := r.URL.Query().Get("v"); v != "" {
		if version, err = strconv.Atoi(v); err != nil {
			writeJSONError(w, stdhttp.StatusBadRequest, "invalid protocol version")
			return
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	if h.readLimit > 0 {
		conn.SetReadLimit(h.readLimit)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	participant := core.Participant{ID: identity.UserID, Name: identity.Name}
	c, err := h.hub.AcceptConnection(ctx, &wsTransport{conn: conn}, participant, version)
	if err != nil {
		code := core.ErrorCode(err)
		h.reject(ctx, conn, code, err.Error())
		return
	}

	reason := h.readLoop(ctx, conn, c)
	h.hub.CloseConnection(context.Background(), c.ID, reason)
}

// readLoop feeds inbound frames to the hub until the socket fails. It returns
// the close reason.
func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, c *core.Conn) string {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				return "client closed"
			}
			h.log.Debug().Err(err).Str("conn_id", c.ID).Msg("read ws frame")
			return "read error"
		}
		if typ != websocket.MessageText {
			continue
		}
		if err := h.hub.SubmitInbound(ctx, c.ID, data); err != nil {
			// Evicted by the hub while the read was pending.
			return "evicted"
		}
	}
}

// reject writes an error envelope to a socket the hub refused, then closes it.
func (h *WSHandler) reject(ctx context.Context, conn *websocket.Conn, code, msg string) {
	writeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := wsjson.Write(writeCtx, conn, proto.ErrorFrame("", code, msg)); err != nil {
		h.log.Debug().Err(err).Msg("write rejection")
	}

	status := websocket.StatusPolicyViolation
	if code == core.ErrCodeTooManyConnections {
		status = websocket.StatusTryAgainLater
	}
	_ = conn.Close(status, code)
}

// wsTransport adapts a websocket to core.Transport.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Write(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

// Close runs the close handshake in the background; the read loop observes
// the closed socket and exits.
func (t *wsTransport) Close(reason string) error {
	status := websocket.StatusNormalClosure
	switch reason {
	case core.ReasonIdle, core.ReasonBackpressured:
		status = websocket.StatusPolicyViolation
	case "server shutdown":
		status = websocket.StatusGoingAway
	}
	go func() { _ = t.conn.Close(status, reason) }()
	return nil
}

func tokenFromRequest(r *stdhttp.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func writeJSONError(w stdhttp.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: msg})
}
