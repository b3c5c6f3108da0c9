package cluster

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// upgrader accepts same-origin and cross-origin streaming clients alike;
// the streaming endpoint carries no secrets of its own (entries are
// already blinded ciphertext), so origin checking is not load-bearing here.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Broadcaster fans live GossipEntry batches out to subscribed peers over
// long-lived websocket connections, an optional low-latency path
// alongside the default one-shot HTTP gossip/anti-entropy RPCs (spec
// §9's "optional streaming path" design note).
type Broadcaster struct {
	log *logrus.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewBroadcaster wires a streaming fan-out hub.
func NewBroadcaster(log *logrus.Logger) *Broadcaster {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Broadcaster{log: log, clients: make(map[*websocket.Conn]struct{})}
}

// Subscribe upgrades an inbound HTTP request to a websocket connection
// and registers it to receive every subsequent Broadcast call until the
// client disconnects.
func (b *Broadcaster) Subscribe(w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.clients[conn] = struct{}{}
	b.mu.Unlock()

	go b.drainUntilClosed(conn)
	return nil
}

// drainUntilClosed discards inbound frames (this is a push-only fan-out)
// and deregisters the connection once the client goes away.
func (b *Broadcaster) drainUntilClosed(conn *websocket.Conn) {
	defer func() {
		b.mu.Lock()
		delete(b.clients, conn)
		b.mu.Unlock()
		conn.Close()
	}()
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

// Broadcast pushes a gossip batch to every subscribed peer, best-effort:
// a write failure just drops that one subscriber on the next read.
func (b *Broadcaster) Broadcast(entries []GossipEntry) {
	if len(entries) == 0 {
		return
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		b.log.WithError(err).Warn("cluster: failed to marshal stream broadcast")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.clients {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			b.log.WithError(err).Debug("cluster: dropping unresponsive stream subscriber")
		}
	}
}

// Subscribers reports the current live subscriber count.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}
