// Package server exposes searches over a WebSocket endpoint that streams
// per-batch and per-generation progress to the client.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/lawnchairsociety/rpsbalance/internal/config"
	"github.com/lawnchairsociety/rpsbalance/internal/database"
	"github.com/lawnchairsociety/rpsbalance/internal/logger"
	"github.com/lawnchairsociety/rpsbalance/internal/search"
)

const writeTimeout = 10 * time.Second

// Archive stores runs started through the server. *database.Database
// satisfies it.
type Archive interface {
	CreateRun(mode search.Mode, seed uint64) (*database.Run, error)
	FinishRun(id int64, result search.Result) error
	SaveDiscoveries(runID int64, discoveries []search.Discovery) (int, error)
}

// Server runs client searches.
type Server struct {
	cfg      *config.Config
	archive  Archive
	limiter  *SearchLimiter
	upgrader websocket.Upgrader

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

// NewServer creates a server. archive may be nil.
func NewServer(cfg *config.Config, archive Archive) *Server {
	ctx, stop := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		archive: archive,
		limiter: NewSearchLimiter(cfg.WebSocket.MaxPerIP, cfg.WebSocket.MaxConcurrent),
		ctx:     ctx,
		stop:    stop,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			allowed := s.cfg.WebSocket.IsOriginAllowed(origin, r.Host)
			if !allowed {
				logger.Warning("WebSocket connection rejected - origin not allowed",
					"origin", origin,
					"host", r.Host,
					"remote_addr", r.RemoteAddr)
			}
			return allowed
		},
	}
	return s
}

// Handler serves /ws and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocketUpgrade)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// ListenAndServe serves on the configured address until ctx is done, then
// cancels running searches and waits for their sessions to end.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.WebSocket.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warning("HTTP shutdown incomplete", "error", err)
		}
	}()

	logger.Info("WebSocket server listening", "address", s.cfg.WebSocket.Listen)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		s.wg.Wait()
		return nil
	}
	return err
}

// Close cancels every session and waits for them to finish.
func (s *Server) Close() {
	s.stop()
	s.wg.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	running, _ := s.limiter.Stats()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"status": "ok", "running": running})
}

func (s *Server) handleWebSocketUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.ctx.Err() != nil {
		http.Error(w, "Server is shutting down.", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		logger.Debug("WebSocket upgrade failed", "error", err)
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	sess := &session{conn: conn, ip: getRealIP(r)}
	logger.Debug("WebSocket session opened", "client_ip", sess.ip)
	s.serveSession(ctx, sess)
	logger.Debug("WebSocket session closed", "client_ip", sess.ip)
}

// session is one WebSocket connection. At most one search runs per session.
type session struct {
	conn *websocket.Conn
	ip   string

	writeMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
}

func (c *session) send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *session) sendError(err error) {
	if sendErr := c.send(NewErrorMessage(err)); sendErr != nil {
		logger.Debug("Failed to send error to client", "client_ip", c.ip, "error", sendErr)
	}
}

// begin marks the session busy. It returns false if a search is running.
func (c *session) begin(cancel context.CancelFunc) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return false
	}
	c.cancel = cancel
	return true
}

func (c *session) end() {
	c.mu.Lock()
	c.cancel = nil
	c.mu.Unlock()
}

func (c *session) cancelSearch() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()
}

func (s *Server) serveSession(ctx context.Context, sess *session) {
	var running sync.WaitGroup
	defer sess.conn.Close()
	defer running.Wait()
	defer sess.cancelSearch()

	// Unblock ReadMessage when the server shuts down.
	stopWatch := context.AfterFunc(ctx, func() {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		sess.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		sess.conn.Close()
	})
	defer stopWatch()

	if limit := s.cfg.WebSocket.MaxMessageSize; limit > 0 {
		sess.conn.SetReadLimit(limit)
	}

	for {
		_, payload, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("WebSocket read failed", "client_ip", sess.ip, "error", err)
			}
			return
		}

		switch kind := gjson.GetBytes(payload, "type").String(); kind {
		case "cancel":
			sess.cancelSearch()
		case "", "search":
			s.startSearch(ctx, sess, payload, &running)
		default:
			sess.sendError(errors.New("unknown message type " + kind))
		}
	}
}

func (s *Server) startSearch(ctx context.Context, sess *session, payload []byte, running *sync.WaitGroup) {
	req, err := ParseRequest(s.cfg, payload)
	if err != nil {
		sess.sendError(err)
		return
	}

	searchCtx, cancel := context.WithCancel(ctx)
	if !sess.begin(cancel) {
		cancel()
		sess.sendError(errors.New("a search is already running on this connection"))
		return
	}
	if !s.limiter.TryAcquire(sess.ip) {
		sess.end()
		cancel()
		logger.Warning("Search rejected - limit exceeded", "client_ip", sess.ip)
		sess.sendError(errors.New("too many concurrent searches, try again later"))
		return
	}

	running.Add(1)
	go func() {
		defer running.Done()
		defer s.limiter.Release(sess.ip)
		defer sess.end()
		defer cancel()
		s.runSearch(searchCtx, sess, req)
	}()
}

func (s *Server) runSearch(ctx context.Context, sess *session, req search.Request) {
	req.Progress = func(p search.Progress) bool {
		if err := sess.send(NewProgressMessage(p)); err != nil {
			return false
		}
		return ctx.Err() == nil
	}

	var runID int64
	if s.archive != nil {
		run, err := s.archive.CreateRun(req.Mode, req.Seed)
		if err != nil {
			logger.Error("Failed to archive run", "error", err)
		} else {
			runID = run.ID
		}
	}

	logger.Info("Search started", "client_ip", sess.ip, "mode", req.Mode, "seed", req.Seed, "run", runID)
	result, err := search.Run(ctx, req)
	if err != nil {
		sess.sendError(err)
		return
	}

	if runID != 0 {
		if _, err := s.archive.SaveDiscoveries(runID, result.Discoveries); err != nil {
			logger.Error("Failed to archive discoveries", "run", runID, "error", err)
		}
		if err := s.archive.FinishRun(runID, result); err != nil {
			logger.Error("Failed to finish archived run", "run", runID, "error", err)
		}
	}

	logger.Info("Search finished", "client_ip", sess.ip, "mode", result.Mode,
		"evaluated", result.Evaluated, "discovered", len(result.Discoveries), "stop_reason", result.StopReason)
	if err := sess.send(NewResultMessage(result, runID)); err != nil {
		logger.Debug("Failed to send result", "client_ip", sess.ip, "error", err)
	}
}
