package web

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"trial-capture-recorder/config"
	"trial-capture-recorder/display"
)

// Server is the optional status web server: JSON status endpoints plus a
// websocket pushing progress text and JPEG preview frames from the display
// feed to any connected viewer. It is a pure consumer of the feed; a slow
// or absent browser never slows the capture pipeline down.
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	httpServer *http.Server
	handlers   *Handlers

	feed     *display.Feed
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a web server consuming the given preview feed.
func NewServer(cfg *config.Config, feed *display.Feed, logger *zap.Logger) *Server {
	s := &Server{
		config:  cfg,
		logger:  logger,
		feed:    feed,
		clients: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.handlers = NewHandlers(cfg, logger)
	return s
}

// SetStatusFunc installs the session status provider for /api/status.
func (s *Server) SetStatusFunc(fn func() map[string]interface{}) {
	s.handlers.SetStatusFunc(fn)
}

// Start starts the web server and the feed broadcaster.
func (s *Server) Start() error {
	s.logger.Info("starting web server", zap.Int("port", s.config.Server.WebPort))

	s.ctx, s.cancel = context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handlers.HandleAPIStatus)
	mux.HandleFunc("/api/config", s.handlers.HandleAPIConfig)
	mux.HandleFunc("/health", s.handlers.HandleHealth)
	mux.HandleFunc("/ws", s.handleWebsocket)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Server.BindIP, s.config.Server.WebPort),
		Handler:      s.addMiddleware(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("web server error", zap.Error(err))
		}
	}()

	if s.feed != nil {
		go s.broadcastLoop()
	}

	s.logger.Info("web server started", zap.String("address", s.httpServer.Addr))
	return nil
}

// handleWebsocket upgrades a viewer connection and registers it for
// broadcasts.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	s.mu.Lock()
	s.clients[conn] = true
	s.mu.Unlock()
	s.logger.Info("viewer connected", zap.String("remote_addr", conn.RemoteAddr().String()))

	// Reader goroutine: we only care about close/control frames.
	go func() {
		defer s.dropClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) dropClient(conn *websocket.Conn) {
	s.mu.Lock()
	if s.clients[conn] {
		delete(s.clients, conn)
		conn.Close()
	}
	s.mu.Unlock()
}

// broadcastLoop consumes the preview feed and pushes each update to every
// connected viewer.
func (s *Server) broadcastLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case update := <-s.feed.Updates():
			msg, err := encodeUpdate(update)
			if err != nil {
				s.logger.Error("failed to encode preview update", zap.Error(err))
				continue
			}
			s.broadcast(msg)
		}
	}
}

func (s *Server) broadcast(msg interface{}) {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := conn.WriteJSON(msg); err != nil {
			s.logger.Debug("dropping slow viewer", zap.Error(err))
			s.dropClient(conn)
		}
	}
}

// addMiddleware adds CORS and request logging.
func (s *Server) addMiddleware(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w, statusCode: 200}
		handler.ServeHTTP(lw, r)

		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Int("status", lw.statusCode),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// loggingResponseWriter wraps http.ResponseWriter to capture status code
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// Stop shuts the server down, closing every viewer connection.
func (s *Server) Stop() error {
	s.logger.Info("stopping web server")

	if s.cancel != nil {
		s.cancel()
	}

	s.mu.Lock()
	for conn := range s.clients {
		conn.Close()
		delete(s.clients, conn)
	}
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("error during web server shutdown", zap.Error(err))
		return err
	}

	s.logger.Info("web server stopped")
	return nil
}
