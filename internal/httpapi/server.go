// Package httpapi — HTTP: метрики, текущий статус, поток записей по WebSocket, проверка здоровья.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/shiwa/timecard-mini/gpsdo/internal/estimator"
	"github.com/shiwa/timecard-mini/gpsdo/internal/logger"
	"github.com/shiwa/timecard-mini/gpsdo/internal/telemetry"
)

// Message — тело /api/status и сообщений /api/ws.
type Message struct {
	Status telemetry.Status  `json:"status"`
	KF     telemetry.KFDebug `json:"kf"`
}

const (
	clientBuffer = 8
	writeTimeout = 5 * time.Second
)

// Server хранит последнюю запись и раздаёт её. Реализует telemetry.Emitter.
type Server struct {
	router   *mux.Router
	upgrader websocket.Upgrader
	healthy  func() bool

	mu      sync.RWMutex
	latest  *Message
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New строит маршруты. metrics может быть nil; healthy == nil — всегда здоров.
func New(metrics http.Handler, healthy func() bool) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		healthy: healthy,
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	if metrics != nil {
		s.router.Handle("/metrics", metrics).Methods(http.MethodGet)
	}
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/api/ws", s.handleWS).Methods(http.MethodGet)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})
	return s
}

// Handler — корневой обработчик.
func (s *Server) Handler() http.Handler { return s.router }

// Emit сохраняет запись и рассылает её подписчикам. Медленный подписчик теряет сообщения.
func (s *Server) Emit(st telemetry.Status, snap estimator.Snapshot) error {
	m := &Message{Status: st.JSON(), KF: telemetry.DebugView(snap)}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.latest = m
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
		}
	}
	s.mu.Unlock()
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.healthy != nil && !s.healthy() {
		http.Error(w, "reference lost", http.StatusServiceUnavailable)
		return
	}
	w.Write([]byte("ok\n"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	m := s.latest
	s.mu.RUnlock()
	if m == nil {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("ws upgrade: %v", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		// Входящие сообщения не ожидаются; чтение нужно для обнаружения закрытия.
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		conn.Close()
	}()
	for {
		select {
		case <-done:
			return
		case data := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

// Clients — число подключённых подписчиков.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// ListenAndServe обслуживает addr до отмены ctx.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("http: listening on %s", addr)
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
