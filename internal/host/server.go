package host

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"talkinghead/internal/audio"
	"talkinghead/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 16
)

// Speaker is what a connected client drives. session.Controller fits.
// Begin must apply a request in call order and return the slow remainder to run.
type Speaker interface {
	Begin(ctx context.Context, text string) (func() error, error)
	Stop()
}

// Server exposes the controller over a websocket and serves audio handles over HTTP.
// It is also the controller's Reporter: values and failures go to every client.
type Server struct {
	registry *audio.Registry
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	speaker Speaker
	clients map[*client]struct{}
	ctx     context.Context
	log     *logrus.Entry
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

func NewServer(registry *audio.Registry) *Server {
	return &Server{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients: make(map[*client]struct{}),
		ctx:     context.Background(),
		log:     logrus.WithField("component", "host"),
	}
}

// Bind attaches the controller. The server exists first because it is the controller's reporter.
func (s *Server) Bind(speaker Speaker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speaker = speaker
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc(audio.HandlePrefix, s.handleAudio)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("Host server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.closeClients()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Report broadcasts the audio handle of a session that started playing.
func (s *Server) Report(sessionID, handle string) {
	msg, err := Encode(TypeValue, ValuePayload{SessionID: sessionID, Handle: handle})
	if err != nil {
		s.log.WithError(err).Error("Failed to encode value")
		return
	}
	s.broadcast(msg)
}

// Fail broadcasts a session failure.
func (s *Server) Fail(sessionID string, err error) {
	msg, encErr := Encode(TypeError, ErrorPayload{SessionID: sessionID, Kind: ErrorKind(err), Message: err.Error()})
	if encErr != nil {
		s.log.WithError(encErr).Error("Failed to encode error")
		return
	}
	s.broadcast(msg)
}

// Clients is the number of connected websocket clients.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// broadcast never blocks: a client whose buffer is full misses the message.
func (s *Server) broadcast(msg []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		select {
		case c.send <- msg:
		default:
			s.log.Warn("Client send buffer full, dropping message")
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	ctx := s.ctx
	s.mu.Unlock()

	s.log.WithField("remote", r.RemoteAddr).Info("Client connected")

	go s.writePump(c)
	s.readPump(ctx, c)
}

func (s *Server) readPump(ctx context.Context, c *client) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		c.close()
		c.conn.Close()
		s.log.Info("Client disconnected")
	}()

	c.conn.SetReadLimit(64 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.WithError(err).Warn("WebSocket read failed")
			}
			return
		}
		s.handleMessage(ctx, c, data)
	}
}

func (s *Server) handleMessage(ctx context.Context, c *client, data []byte) {
	env, err := Decode(data)
	if err != nil {
		s.replyError(c, err)
		return
	}

	s.mu.RLock()
	speaker := s.speaker
	s.mu.RUnlock()
	if speaker == nil {
		s.replyError(c, errors.New("no session controller bound"))
		return
	}

	switch env.Type {
	case TypeSpeak:
		var p SpeakPayload
		if err := DecodePayload(env, &p); err != nil {
			s.replyError(c, err)
			return
		}
		// the epoch is taken here, in arrival order; synthesis and loading run
		// off the read loop so a newer speak can supersede them
		run, err := speaker.Begin(ctx, p.Text)
		if errors.Is(err, session.ErrClosed) {
			s.replyError(c, err)
			return
		}
		if err != nil || run == nil {
			return
		}
		go func() {
			if err := run(); errors.Is(err, session.ErrClosed) {
				s.replyError(c, err)
			}
		}()
	case TypeStop:
		speaker.Stop()
	default:
		s.replyError(c, fmt.Errorf("unknown message type %q", env.Type))
	}
}

// replyError goes to one client only; session failures reach everyone through Fail.
func (s *Server) replyError(c *client, err error) {
	msg, encErr := Encode(TypeError, ErrorPayload{Kind: "protocol", Message: err.Error()})
	if encErr != nil {
		return
	}
	s.mu.RLock()
	_, connected := s.clients[c]
	if connected {
		select {
		case c.send <- msg:
		default:
		}
	}
	s.mu.RUnlock()
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.log.WithError(err).Warn("WebSocket write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		c.close()
		delete(s.clients, c)
	}
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	res, err := s.registry.Open(r.URL.Path)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	data, err := res.Bytes()
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", res.Format.MIMEType())
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		w.Write(data)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body, err := Encode("health", map[string]interface{}{
		"status":  "ok",
		"clients": s.Clients(),
		"audio":   s.registry.Live(),
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}
