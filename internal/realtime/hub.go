// Package realtime pushes ledger events to websocket subscribers.
package realtime

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"venturemarket/internal/events"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second

	// sendBuffer is how many events a subscriber may fall behind before it
	// is disconnected
	sendBuffer = 64
)

type subscriber struct {
	id     uint64
	conn   *websocket.Conn
	prefix string
	send   chan []byte
	stopCh chan struct{}
	once   sync.Once
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.stopCh) })
}

// Hub fans events out to connected websocket clients. It implements
// events.Publisher so services can publish to it directly.
type Hub struct {
	subscribers sync.Map // map[uint64]*subscriber
	nextID      atomic.Uint64
	upgrader    websocket.Upgrader
}

// NewHub creates a hub. allowedOrigins is matched exactly; "*" or an empty
// list accepts any origin.
func NewHub(allowedOrigins []string) *Hub {
	allowAll := len(allowedOrigins) == 0
	allowed := map[string]bool{}
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowAll || origin == "" || allowed[origin]
			},
		},
	}
}

// Publish forwards ledger events to every subscriber whose prefix matches
// the event name. Messages for other queues are ignored.
func (h *Hub) Publish(queue string, message interface{}) error {
	if queue != events.QueueLedgerEvents {
		return nil
	}
	name := ""
	if ev, ok := message.(events.Event); ok {
		name = ev.Name
	}
	body, err := json.Marshal(message)
	if err != nil {
		return err
	}

	h.subscribers.Range(func(_, value interface{}) bool {
		s := value.(*subscriber)
		if s.prefix != "" && !strings.HasPrefix(name, s.prefix) {
			return true
		}
		select {
		case s.send <- body:
		default:
			log.WithField("subscriber", s.id).Warn("Realtime subscriber too slow, disconnecting")
			s.stop()
		}
		return true
	})
	return nil
}

// Relay publishes an event consumed from the ledger events queue.
// Undecodable bodies are dropped.
func (h *Hub) Relay(body []byte) error {
	var ev events.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		log.WithField("error", err.Error()).Warn("Dropping malformed ledger event")
		return nil
	}
	return h.Publish(events.QueueLedgerEvents, ev)
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	n := 0
	h.subscribers.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.subscribers.Range(func(_, value interface{}) bool {
		value.(*subscriber).stop()
		return true
	})
}

// ServeWS upgrades the request and streams events until the client leaves.
// The optional "prefix" query parameter filters by event name, e.g. "job.".
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithField("error", err.Error()).Warn("Websocket upgrade failed")
		return
	}

	s := &subscriber{
		id:     h.nextID.Add(1),
		conn:   conn,
		prefix: c.Query("prefix"),
		send:   make(chan []byte, sendBuffer),
		stopCh: make(chan struct{}),
	}
	h.subscribers.Store(s.id, s)
	log.WithFields(log.Fields{"subscriber": s.id, "prefix": s.prefix}).Info("Realtime subscriber connected")

	go h.readLoop(s)
	h.writeLoop(s)

	h.subscribers.Delete(s.id)
	conn.Close()
	log.WithField("subscriber", s.id).Info("Realtime subscriber disconnected")
}

// readLoop discards client messages and stops the subscriber when the
// connection drops or pongs stop arriving.
func (h *Hub) readLoop(s *subscriber) {
	defer s.stop()
	s.conn.SetReadLimit(512)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(s *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case body := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, body); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
