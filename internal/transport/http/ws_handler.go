package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/wirechat-relay/internal/config"
	"github.com/vovakirdan/wirechat-relay/internal/core"
	"github.com/vovakirdan/wirechat-relay/internal/proto"
	"github.com/vovakirdan/wirechat-relay/internal/utils"
)

// WSConfig holds per-connection limits.
type WSConfig struct {
	MaxMessageBytes    int64
	SendBuffer         int
	WriteTimeout       time.Duration
	RateLimitPerMinute int
}

// WSConfigFrom picks the WebSocket settings out of the server config.
func WSConfigFrom(cfg *config.Config) WSConfig {
	return WSConfig{
		MaxMessageBytes:    cfg.MaxMessageBytes,
		SendBuffer:         cfg.SendBuffer,
		WriteTimeout:       cfg.WriteTimeout,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	}
}

// closeError ends a connection with a specific close status.
type closeError struct {
	status websocket.StatusCode
	reason string
}

func (e *closeError) Error() string { return e.reason }

// WSHandler upgrades HTTP connections and bridges them to core.Client.
type WSHandler struct {
	hub *core.Hub
	cfg WSConfig
	log *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, cfg WSConfig, logger *zerolog.Logger) stdhttp.Handler {
	def := config.Default()
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = def.MaxMessageBytes
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	return &WSHandler{hub: hub, cfg: cfg, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	conn.SetReadLimit(h.cfg.MaxMessageBytes)

	client := core.NewClient(utils.NewID(), h.cfg.SendBuffer)
	log := h.log.With().Str("conn_id", client.ID).Str("remote", r.RemoteAddr).Logger()

	h.hub.Connect(client)
	defer h.hub.Disconnect(client)

	// The read loop runs on the request context: cancelling a pending Read
	// makes the library close the connection on its own terms. It is stopped
	// by closing the connection instead.
	ctx := r.Context()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.readLoop(ctx, conn, client, &log) })
	g.Go(func() error { return h.writeLoop(gctx, conn, client, &log) })
	err = g.Wait()

	status, reason := closeStatus(err)
	if status == websocket.StatusInternalError {
		log.Warn().Err(err).Msg("ws connection closed with error")
	} else {
		log.Debug().Err(err).Int("status", int(status)).Msg("ws connection closed")
	}
	_ = conn.Close(status, reason)
}

func closeStatus(err error) (websocket.StatusCode, string) {
	var ce *closeError
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, io.EOF):
		return websocket.StatusNormalClosure, "closing"
	case errors.As(err, &ce):
		return ce.status, ce.reason
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return websocket.StatusNormalClosure, "closing"
	case websocket.StatusMessageTooBig:
		return websocket.StatusMessageTooBig, "message too big"
	}
	return websocket.StatusInternalError, "internal error"
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, log *zerolog.Logger) error {
	limiter := newRateLimiter(h.cfg.RateLimitPerMinute)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			select {
			case <-client.Done():
				// Closed by the write loop.
				return nil
			default:
			}
			return err
		}

		if !limiter.allow() {
			log.Debug().Msg("inbound rate limit exceeded")
			if err := h.write(ctx, conn, errorFrame(&proto.Error{Code: core.ErrCodeRateLimited, Msg: "too many messages"})); err != nil {
				return err
			}
			continue
		}

		var inbound proto.Inbound
		if typ != websocket.MessageText || json.Unmarshal(data, &inbound) != nil {
			if err := h.write(ctx, conn, errorFrame(&proto.Error{Code: core.ErrCodeInvalidMessage, Msg: "expected a JSON text frame"})); err != nil {
				return err
			}
			continue
		}

		cmd, perr := inboundToCommand(inbound)
		if perr != nil {
			log.Debug().Str("type", inbound.Type).Str("code", perr.Code).Msg("inbound rejected")
			if err := h.write(ctx, conn, errorFrame(perr)); err != nil {
				return err
			}
			if perr.Code == core.ErrCodeUnsupportedVersion {
				return &closeError{status: websocket.StatusPolicyViolation, reason: perr.Msg}
			}
			continue
		}

		if err := h.hub.Handle(ctx, client, cmd); err != nil {
			if writeErr := h.write(ctx, conn, errorFrameFrom(err)); writeErr != nil {
				return writeErr
			}
			if errors.Is(err, core.ErrAuth) {
				return &closeError{status: websocket.StatusPolicyViolation, reason: core.ErrCodeUnauthorized}
			}
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, log *zerolog.Logger) error {
	for {
		select {
		case event := <-client.Events:
			if err := h.write(ctx, conn, outboundFromEvent(event)); err != nil {
				log.Debug().Err(err).Msg("write ws event")
				_ = conn.CloseNow()
				return err
			}
		case <-client.Done():
			reason := client.CloseReason()
			status := websocket.StatusNormalClosure
			switch reason {
			case core.CloseSlowConsumer:
				status = websocket.StatusPolicyViolation
			case core.CloseShuttingDown:
				status = websocket.StatusGoingAway
			}
			log.Info().Str("reason", reason).Msg("closing connection")
			_ = conn.Close(status, reason)
			return &closeError{status: status, reason: reason}
		case <-ctx.Done():
			return nil
		}
	}
}

func (h *WSHandler) write(ctx context.Context, conn *websocket.Conn, out proto.Outbound) error {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, out)
}
