// Package handlers exposes the collaboration gateway: the websocket
// endpoint clients connect to for live editing sessions.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pitabwire/util"
	"github.com/scribehub/service-collab/apps/sessiond/service"
	"github.com/scribehub/service-collab/apps/sessiond/service/business"
	"github.com/scribehub/service-collab/apps/sessiond/service/models"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024

	// pongMultiplier times the heartbeat interval is how long the transport
	// read deadline extends past the last inbound traffic.
	pongMultiplier = 3
)

// GatewayHandler upgrades HTTP requests to websocket sessions and pumps
// frames between the transport and the session coordinator.
type GatewayHandler struct {
	coordinator       *business.SessionCoordinator
	heartbeatInterval time.Duration
	upgrader          websocket.Upgrader
}

// NewGatewayHandler creates the websocket gateway.
func NewGatewayHandler(coordinator *business.SessionCoordinator, heartbeatInterval time.Duration) *GatewayHandler {
	if heartbeatInterval <= 0 {
		heartbeatInterval = 30 * time.Second
	}
	return &GatewayHandler{
		coordinator:       coordinator,
		heartbeatInterval: heartbeatInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect from the document editor's origin,
			// which is not known here. Identity comes from the authenticate
			// handshake, not the origin.
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
}

// ServeWebSocket is the handler for the /ws endpoint.
func (h *GatewayHandler) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.Log(r.Context()).WithError(err).Warn("websocket upgrade failed")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	session := h.coordinator.NewSession()
	defer func() {
		session.Disconnect(ctx)
		_ = ws.Close()
	}()

	go h.writePump(ctx, cancel, ws, session)
	go h.pingLoop(ctx, ws)

	h.readPump(ctx, ws, session)
}

// readPump runs on the handler goroutine and is the session's single event
// loop: every inbound frame is decoded and handled serially.
func (h *GatewayHandler) readPump(ctx context.Context, ws *websocket.Conn, session *business.Session) {
	pongWait := pongMultiplier * h.heartbeatInterval
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	conn := session.Connection()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				util.Log(ctx).WithError(err).Debug("websocket read ended")
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))

		if !conn.AllowInbound() {
			h.sendDecodeError(ctx, conn, "rate limit exceeded, event dropped")
			continue
		}

		evt, err := models.DecodeClientEvent(data)
		if err != nil {
			util.Log(ctx).WithError(err).Warn("rejecting malformed client frame")
			h.sendDecodeError(ctx, conn, err.Error())
			continue
		}

		session.HandleEvent(ctx, evt)
	}
}

// writePump drains the session's dispatch channel onto the wire. A write
// failure cancels the session context, which unwinds the read pump too.
func (h *GatewayHandler) writePump(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn, session *business.Session) {
	defer cancel()

	conn := session.Connection()
	for {
		frame := conn.ConsumeDispatch(ctx)
		if frame == nil {
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}

		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ws.WriteMessage(websocket.TextMessage, frame.Data); err != nil {
			util.Log(ctx).WithError(err).Debug("websocket write failed")
			return
		}
	}
}

// pingLoop keeps the transport alive. WriteControl is safe to use
// concurrently with the write pump.
func (h *GatewayHandler) pingLoop(ctx context.Context, ws *websocket.Conn) {
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			if err != nil {
				return
			}
		}
	}
}

// sendDecodeError reports a transport-level rejection without involving the
// session state machine.
func (h *GatewayHandler) sendDecodeError(ctx context.Context, conn business.Connection, message string) {
	frame, err := models.NewServerFrame(models.ServerTypeError, models.ErrorPayload{
		Code:    service.CodeValidationFailed,
		Message: message,
	})
	if err != nil {
		util.Log(ctx).WithError(err).Error("failed to encode error frame")
		return
	}
	conn.Dispatch(frame)
}
