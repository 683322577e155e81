package observer

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"carbrains/internal/events"
)

// DefaultClientBuffer is the number of pending messages a client may lag
// behind before it is dropped.
const DefaultClientBuffer = 256

type client struct {
	id   string
	out  chan []byte
	once sync.Once
}

func (c *client) close() { c.once.Do(func() { close(c.out) }) }

// Server streams training events to websocket clients. It implements
// events.Sink.
type Server struct {
	log      *log.Logger
	buffer   int
	status   func() any
	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu      sync.Mutex
	clients map[string]*client
	closed  bool
}

var _ events.Sink = (*Server)(nil)

// NewServer creates an observer. status, when set, backs StatusHandler.
func NewServer(logger *log.Logger, buffer int, status func() any) *Server {
	if buffer <= 0 {
		buffer = DefaultClientBuffer
	}
	return &Server{
		log:    logger,
		buffer: buffer,
		status: status,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: map[string]*client{},
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

// Publish queues ev for every client. Clients whose buffer is full are
// disconnected.
func (s *Server) Publish(ev events.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.clients {
		select {
		case c.out <- b:
		default:
			s.logf("dropping slow client %s", id)
			delete(s.clients, id)
			c.close()
		}
	}
	return nil
}

// Close disconnects every client and refuses new ones.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, c := range s.clients {
		delete(s.clients, id)
		c.close()
	}
	return nil
}

func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) join() (*client, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	c := &client{id: fmt.Sprintf("O%d", s.nextID.Add(1)), out: make(chan []byte, s.buffer)}
	s.clients[c.id] = c
	return c, true
}

func (s *Server) leave(c *client) {
	s.mu.Lock()
	if cur, ok := s.clients[c.id]; ok && cur == c {
		delete(s.clients, c.id)
	}
	s.mu.Unlock()
	c.close()
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		c, ok := s.join()
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
			return
		}
		defer s.leave(c)
		s.logf("client %s connected from %s", c.id, r.RemoteAddr)

		// Reader: clients only send close frames; any read error ends the session.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-done:
				return
			case b, ok := <-c.out:
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					return
				}
			}
		}
	}
}

// StatusHandler serves the current status snapshot as JSON.
func (s *Server) StatusHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if s.status == nil {
			http.Error(rw, "no status", http.StatusNotFound)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(s.status())
	}
}

// Mux routes /events and /status.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.WSHandler())
	mux.HandleFunc("/status", s.StatusHandler())
	return mux
}
