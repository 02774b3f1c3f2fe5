package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/skobkin/statbar/internal/api"
)

const wsSendQueueSize = 16

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	reqLogger := s.loggerFromContext(r.Context())
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	if s.deps.Sampler == nil || s.deps.Settings == nil {
		http.Error(w, "metrics pipeline unavailable", http.StatusServiceUnavailable)
		return
	}

	if !s.reserveWS() {
		reqLogger.Warn("websocket rejected", "reason", "capacity")
		http.Error(w, "websocket capacity reached", http.StatusServiceUnavailable)
		return
	}
	defer s.releaseWS()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(s.cfg.AllowedOrigins),
	})
	if err != nil {
		reqLogger.Warn("websocket accept failed", "err", err)
		return
	}
	closing := wsClose{code: websocket.StatusNormalClosure}
	defer func() { closing.apply(reqLogger, conn) }()

	connID := s.wsConnIDs.Add(1)
	s.wsTotal.Add(1)
	logger := reqLogger.With("ws_id", connID)
	logger.Debug("websocket connected")

	ctx, cancel := context.WithCancel(r.Context())
	outbound := newWSOutbound(wsSendQueueSize, &s.wsDropped)
	writerDone := make(chan struct{})
	go s.wsWriter(ctx, conn, outbound, cancel, logger, writerDone)

	settingsCh, unsubscribeSettings := s.deps.Settings.Subscribe()
	snapshotCh, unsubscribeSnapshots := s.deps.Sampler.Subscribe()
	defer func() {
		unsubscribeSnapshots()
		unsubscribeSettings()
		outbound.close()
		cancel()
		<-writerDone
	}()

	// The settings stream replays the current value; it goes out in hello.
	current := s.deps.Settings.Current()
	select {
	case replay, ok := <-settingsCh:
		if ok {
			current = replay
		}
	default:
	}
	selection := current.Kinds()

	hello := api.NewHelloMessage(
		s.deps.Sampler.Intervals(),
		s.deps.EnforceInterval,
		current,
		s.deps.Sampler.Status(),
		map[string]bool{
			"overlay":    s.deps.Overlay != nil,
			"commands":   s.deps.Commands != nil,
			"prometheus": s.cfg.EnablePrometheus,
		},
	)
	if !s.enqueueMessage(outbound, hello, logger) {
		return
	}

	messageCh := make(chan []byte, 8)
	readErrCh := make(chan error, 1)
	go s.readMessages(ctx, conn, messageCh, readErrCh)

	for {
		select {
		case snap, ok := <-snapshotCh:
			if !ok {
				logger.Debug("snapshot stream closed")
				closing = wsClose{code: websocket.StatusGoingAway, reason: "sampler stopped"}
				return
			}
			if !s.enqueueMessage(outbound, api.NewSnapshotMessage(snap.Select(selection)), logger) {
				return
			}
		case next, ok := <-settingsCh:
			if !ok {
				settingsCh = nil
				continue
			}
			selection = next.Kinds()
			if !s.enqueueMessage(outbound, api.NewSettingsMessage(next), logger) {
				return
			}
			if snap, ok := s.deps.Sampler.Latest(); ok {
				if !s.enqueueMessage(outbound, api.NewSnapshotMessage(snap.Select(selection)), logger) {
					return
				}
			}
		case data, ok := <-messageCh:
			if !ok {
				messageCh = nil
				continue
			}
			if !s.handleClientMessage(ctx, outbound, data, logger) {
				return
			}
		case err := <-readErrCh:
			switch {
			case errors.Is(err, context.DeadlineExceeded):
				logger.Debug("websocket client idle, disconnecting")
				closing = wsClose{code: websocket.StatusPolicyViolation, reason: "read timeout"}
			case err != nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled):
				logger.Warn("websocket read error", "err", err)
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

// readMessages pumps client frames. A client silent for longer than the read
// timeout is disconnected; renderers are expected to ping.
func (s *Server) readMessages(ctx context.Context, conn *websocket.Conn, out chan<- []byte, errCh chan<- error) {
	defer close(out)
	for {
		readCtx := ctx
		var cancel context.CancelFunc
		if s.cfg.WS.ReadTimeout > 0 {
			readCtx, cancel = context.WithTimeout(ctx, s.cfg.WS.ReadTimeout)
		}
		msgType, data, err := conn.Read(readCtx)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			errCh <- err
			return
		}
		if msgType != websocket.MessageText {
			continue
		}
		select {
		case out <- data:
		case <-ctx.Done():
			return
		}
	}
}

// handleClientMessage answers one client command. It returns false when the
// connection should be dropped.
func (s *Server) handleClientMessage(ctx context.Context, outbound *wsOutbound, data []byte, logger *slog.Logger) bool {
	var cmd api.Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		logger.Debug("invalid client message", "err", err)
		return s.enqueueError(outbound, "invalid command payload", "", logger)
	}

	if cmd.Type == api.CommandPing {
		return s.enqueueMessage(outbound, api.PongMessage{Type: api.TypePong}, logger)
	}
	if err := cmd.Validate(); err != nil {
		return s.enqueueError(outbound, err.Error(), "", logger)
	}
	if s.deps.Commands == nil {
		return s.enqueueError(outbound, "commands unavailable", "", logger)
	}

	result := s.deps.Commands.Execute(ctx, cmd)
	result.Type = api.TypeResult
	if !result.OK {
		logger.Info("command rejected", "command", cmd.Type, "err", result.Error)
		return s.enqueueError(outbound, result.Error, result.Field, logger)
	}
	logger.Debug("command executed", "command", cmd.Type)
	return s.enqueueMessage(outbound, result, logger)
}

func (s *Server) wsWriter(ctx context.Context, conn *websocket.Conn, outbound *wsOutbound, cancel context.CancelFunc, logger *slog.Logger, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-outbound.channel():
			if !ok {
				return
			}
			if err := s.writeRaw(ctx, conn, msg); err != nil {
				if websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
					logger.Warn("websocket write failed", "err", err)
				}
				cancel()
				return
			}
			s.wsSent.Add(1)
		}
	}
}

func (s *Server) writeRaw(ctx context.Context, conn *websocket.Conn, data []byte) error {
	writeCtx := ctx
	if s.cfg.WS.WriteTimeout > 0 {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(ctx, s.cfg.WS.WriteTimeout)
		defer cancel()
	}
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func (s *Server) enqueueMessage(outbound *wsOutbound, payload any, logger *slog.Logger) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to marshal websocket payload", "err", err)
		return false
	}
	if !outbound.enqueue(data) {
		logger.Warn("websocket outbound queue unavailable")
		return false
	}
	return true
}

func (s *Server) enqueueError(outbound *wsOutbound, msg, field string, logger *slog.Logger) bool {
	return s.enqueueMessage(outbound, api.NewErrorMessage(msg, field), logger)
}

func (s *Server) reserveWS() bool {
	if s.maxWSClients <= 0 {
		s.wsActive.Add(1)
		return true
	}

	for {
		current := s.wsActive.Load()
		if current >= s.maxWSClients {
			s.wsRejected.Add(1)
			return false
		}
		if s.wsActive.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

func (s *Server) releaseWS() {
	s.wsActive.Add(-1)
}

// wsClose is the close frame sent when a connection handler returns.
type wsClose struct {
	code   websocket.StatusCode
	reason string
}

func (c wsClose) apply(logger *slog.Logger, conn *websocket.Conn) {
	if err := conn.Close(c.code, c.reason); err != nil {
		logger.Debug("websocket close failed", "err", err)
	}
}

func originPatterns(origins []string) []string {
	for _, origin := range origins {
		if origin == "*" {
			return []string{"*"}
		}
	}
	dst := make([]string, len(origins))
	copy(dst, origins)
	return dst
}

// wsOutbound is a per-connection send queue that drops the oldest message
// when full. enqueue and close are only called from the connection handler.
type wsOutbound struct {
	ch     chan []byte
	closed atomic.Bool
	drops  *atomic.Uint64
}

func newWSOutbound(size int, dropCounter *atomic.Uint64) *wsOutbound {
	if size <= 0 {
		size = 1
	}
	return &wsOutbound{
		ch:    make(chan []byte, size),
		drops: dropCounter,
	}
}

func (o *wsOutbound) enqueue(msg []byte) bool {
	if o.closed.Load() {
		o.countDrop()
		return false
	}

	select {
	case o.ch <- msg:
		return true
	default:
	}

	select {
	case <-o.ch:
		o.countDrop()
	default:
	}

	select {
	case o.ch <- msg:
		return true
	default:
		o.countDrop()
		return false
	}
}

func (o *wsOutbound) close() {
	if o.closed.CompareAndSwap(false, true) {
		close(o.ch)
	}
}

func (o *wsOutbound) channel() <-chan []byte {
	return o.ch
}

func (o *wsOutbound) countDrop() {
	if o.drops != nil {
		o.drops.Add(1)
	}
}
