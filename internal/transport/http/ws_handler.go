package http

import (
	"encoding/json"
	"net/http"
	"time"

	"assessment-attempt-service/internal/app"
	"assessment-attempt-service/internal/clock"
	"assessment-attempt-service/internal/domain"
	"assessment-attempt-service/internal/metrics"
	"assessment-attempt-service/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// LiveOptions tunes the per-connection session controller.
type LiveOptions struct {
	Clock    clock.Clock
	Debounce time.Duration
	Tick     time.Duration
	// WriteWait bounds each socket write. A client that stops reading is
	// dropped once a write times out.
	WriteWait time.Duration
}

// LiveHandler runs one session controller per websocket connection.
type LiveHandler struct {
	service  *app.AttemptService
	registry session.Registry
	opts     LiveOptions
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewLiveHandler(service *app.AttemptService, registry session.Registry, opts LiveOptions, logger *zap.Logger) *LiveHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = defaultWriteWait
	}
	return &LiveHandler{
		service:  service,
		registry: registry,
		opts:     opts,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type tickPayload struct {
	RemainingMs int64 `json:"remainingMs"`
}

type savedPayload struct {
	State session.SaveState `json:"state"`
}

type submittedPayload struct {
	Local bool            `json:"local"`
	View  app.AttemptView `json:"view"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// Serve upgrades the request and drives the attempt's live view until the
// socket closes. A socket that closes without an unload message only
// disarms the view; the attempt keeps running on the server.
func (h *LiveHandler) Serve(c *gin.Context) {
	identity := identityFrom(c)
	ref := attemptRef(c)
	ctx := c.Request.Context()

	// Ownership is checked before upgrading so the client gets a status code.
	if _, err := h.service.Resume(ctx, ref, identity.UserID); err != nil {
		handleServiceError(c, h.logger, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	metrics.LiveSessions.Inc()
	defer metrics.LiveSessions.Dec()

	out := newOutbox(outboxSize)
	writerDone := make(chan struct{})
	emit := func(msgType string, payload any) {
		if !out.push(outboundMessage{Type: msgType, Payload: payload}) {
			h.logger.Debug("ws message dropped", zap.String("attempt_id", ref.AttemptID), zap.String("type", msgType))
		}
	}

	go func() {
		defer close(writerDone)
		out.run(func(msg outboundMessage) error {
			_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("ws write failed", zap.String("attempt_id", ref.AttemptID), zap.Error(err))
				// Unblocks the reader so the session winds down.
				_ = conn.Close()
				return err
			}
			return nil
		})
	}()

	var ctrl *session.Controller
	ctrl = session.New(session.ServiceClient{Service: h.service, Ref: ref, CandidateID: identity.UserID}, session.Options{
		Clock:    h.opts.Clock,
		Debounce: h.opts.Debounce,
		Tick:     h.opts.Tick,
		Logger:   h.logger,
		OnTick: func(remaining time.Duration) {
			emit("tick", tickPayload{RemainingMs: remaining.Milliseconds()})
		},
		OnSaveState: func(state session.SaveState) {
			emit("saved", savedPayload{State: state})
		},
		OnSubmitted: func(attempt domain.Attempt, local bool) {
			if local {
				session.FreezePeers(h.registry, attempt, ctrl)
			}
			view, err := h.service.View(ctx, ref, identity)
			if err != nil {
				emit("error", errorPayload{Message: err.Error()})
				return
			}
			emit("submitted", submittedPayload{Local: local, View: view})
		},
	})

	h.registry.Register(ref.AttemptID, ctrl)
	defer h.registry.Unregister(ref.AttemptID, ctrl)

	unloaded := false
	defer func() {
		out.close()
		if !unloaded {
			ctrl.Close()
		}
		<-writerDone
	}()

	if _, err := ctrl.Open(ctx); err != nil {
		emit("error", errorPayload{Message: err.Error()})
		return
	}
	view, err := h.service.View(ctx, ref, identity)
	if err != nil {
		emit("error", errorPayload{Message: err.Error()})
		return
	}
	emit("state", view)

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			return
		}
		switch inbound.Type {
		case "answers":
			var answers domain.Answers
			if err := json.Unmarshal(inbound.Payload, &answers); err != nil {
				emit("error", errorPayload{Message: "invalid answers payload"})
				continue
			}
			if err := ctrl.Edit(answers); err != nil {
				emit("error", errorPayload{Message: err.Error()})
			}
		case "submit":
			if _, err := ctrl.Submit(ctx); err != nil {
				emit("error", errorPayload{Message: err.Error()})
			}
		case "unload":
			unloaded = true
			ctrl.Unload(ctx)
			return
		default:
			emit("error", errorPayload{Message: "unsupported message type"})
		}
	}
}
