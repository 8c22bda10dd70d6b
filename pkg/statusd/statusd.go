// Package statusd serves decoded device-state snapshots to UI clients
// over a websocket. The daemon publishes each snapshot once; the server
// fans it out to every connected client and drops clients that cannot
// keep up.
package statusd

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Server is the websocket status feed.
type Server struct {
	addr       string
	httpServer *http.Server
	upgrader   websocket.Upgrader
	log        *logrus.Entry

	mu      sync.RWMutex
	clients map[int64]*client
	nextID  int64
	last    []byte // most recent snapshot, replayed to new clients
}

// New creates a status server listening on addr once started.
func New(addr string) *Server {
	return &Server{
		addr:    addr,
		clients: make(map[int64]*client),
		log:     logrus.WithField("component", "statusd"),
		upgrader: websocket.Upgrader{
			// The feed is read-only state; any origin may watch it.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP handler serving the /state upgrade path.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/state", s.handleState)
	return mux
}

// Start serves the websocket endpoint. It blocks like
// http.ListenAndServe.
func (s *Server) Start() error {
	s.httpServer = &http.Server{Addr: s.addr, Handler: s.Handler()}
	s.log.WithField("addr", s.addr).Info("status feed listening")
	return s.httpServer.ListenAndServe()
}

// Stop closes the listener and every client connection.
func (s *Server) Stop() error {
	s.mu.Lock()
	for _, c := range s.clients {
		c.close()
	}
	s.clients = make(map[int64]*client)
	s.mu.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// Publish marshals one snapshot and queues it to every client. A client
// whose queue is full is disconnected rather than allowed to stall the
// feed.
func (s *Server) Publish(snapshot any) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		s.log.WithError(err).Error("snapshot not marshalable")
		return
	}

	s.mu.Lock()
	s.last = data
	stale := make([]*client, 0)
	for _, c := range s.clients {
		if !c.trySend(data) {
			stale = append(stale, c)
		}
	}
	for _, c := range stale {
		delete(s.clients, c.id)
	}
	s.mu.Unlock()

	for _, c := range stale {
		s.log.WithField("client", c.id).Warn("dropping slow status client")
		c.close()
	}
}

// ClientCount reports how many clients are connected.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	c := &client{
		id:   atomic.AddInt64(&s.nextID, 1),
		conn: conn,
		send: make(chan []byte, 16),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	s.clients[c.id] = c
	if s.last != nil {
		c.trySend(s.last)
	}
	s.mu.Unlock()

	s.log.WithField("client", c.id).Debug("status client connected")
	go c.writePump()
	c.readPump() // blocks until the client goes away

	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	c.close()
	s.log.WithField("client", c.id).Debug("status client disconnected")
}

// client is one websocket subscriber with a buffered outbound queue.
type client struct {
	id        int64
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// trySend queues data without blocking; false means the queue is full.
func (c *client) trySend(data []byte) bool {
	select {
	case <-c.done:
		return true // closing anyway, not the publisher's problem
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readPump discards inbound messages; the feed is one-way. It returns
// when the connection errors or closes.
func (c *client) readPump() {
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
