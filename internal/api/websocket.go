package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/ferrobot-core/internal/infrastructure/config"
)

// Frame types. Clients send subscribe, unsubscribe, ping and snapshot;
// the server sends the rest.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypeSnapshot    = "snapshot"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// WSAllChannels subscribes a peer to every channel.
	WSAllChannels = "*"
)

// wsPeerBuffer is the number of outbound frames queued per peer.
const wsPeerBuffer = 256

// WSRequest is a frame sent by a client. ID is echoed in the reply.
type WSRequest struct {
	Type     string   `json:"type"`
	ID       string   `json:"id,omitempty"`
	Channels []string `json:"channels,omitempty"`
}

// WSMessage is a frame sent by the server.
type WSMessage struct {
	Type    string    `json:"type"`
	ID      string    `json:"id,omitempty"`
	Channel string    `json:"channel,omitempty"`
	Seq     uint64    `json:"seq,omitempty"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload,omitempty"`
}

// wsPeer is one WebSocket connection and its subscriptions.
type wsPeer struct {
	conn *websocket.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once

	mu   sync.RWMutex
	subs map[string]struct{}
}

func newPeer(conn *websocket.Conn) *wsPeer {
	return &wsPeer{
		conn: conn,
		out:  make(chan []byte, wsPeerBuffer),
		done: make(chan struct{}),
		subs: make(map[string]struct{}),
	}
}

// close is idempotent and unblocks both pumps.
func (p *wsPeer) close() {
	p.once.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}

// enqueue queues a frame without blocking. It reports false when the
// frame was dropped.
func (p *wsPeer) enqueue(data []byte) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.out <- data:
		return true
	default:
		return false
	}
}

func (p *wsPeer) wants(channel, topic string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if _, ok := p.subs[WSAllChannels]; ok {
		return true
	}
	if _, ok := p.subs[channel]; ok {
		return true
	}
	if topic == "" {
		return false
	}
	_, ok := p.subs[channel+"/"+topic]
	return ok
}

func (p *wsPeer) reply(req WSRequest, typ string, payload any) {
	data, err := json.Marshal(WSMessage{Type: typ, ID: req.ID, Time: time.Now().UTC(), Payload: payload})
	if err != nil {
		return
	}
	p.enqueue(data)
}

func (p *wsPeer) fail(req WSRequest, message string) {
	p.reply(req, WSTypeError, map[string]string{"message": message})
}

// handleWebSocket upgrades the request and serves the peer until either
// side closes. Peers receive nothing until they subscribe.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.isAllowedOrigin(origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	p := newPeer(conn)
	s.hub.add(p)
	go s.writePump(p, s.wsCfg)
	go s.readPump(p, s.wsCfg)
}

// keepalive returns the ping interval and the read/write deadline derived
// from cfg. Unset values fall back to 30s pings and a 10s pong allowance.
func keepalive(cfg config.WebSocketConfig) (ping, deadline time.Duration) {
	ping = time.Duration(cfg.PingInterval) * time.Second
	if ping <= 0 {
		ping = 30 * time.Second
	}
	pong := time.Duration(cfg.PongTimeout) * time.Second
	if pong <= 0 {
		pong = 10 * time.Second
	}
	return ping, ping + pong
}

// readPump handles inbound frames. Any frame, pong or otherwise, extends
// the read deadline.
func (s *Server) readPump(p *wsPeer, cfg config.WebSocketConfig) {
	defer s.hub.remove(p)

	_, deadline := keepalive(cfg)
	p.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	extend := func() error { return p.conn.SetReadDeadline(time.Now().Add(deadline)) }
	_ = extend()
	p.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		_ = extend()

		var req WSRequest
		if err := json.Unmarshal(data, &req); err != nil {
			p.fail(req, "invalid JSON frame")
			continue
		}
		s.handleRequest(p, req)
	}
}

// writePump owns all writes to the connection.
func (s *Server) writePump(p *wsPeer, cfg config.WebSocketConfig) {
	interval, deadline := keepalive(cfg)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer p.close()

	write := func(typ int, data []byte) error {
		_ = p.conn.SetWriteDeadline(time.Now().Add(deadline))
		return p.conn.WriteMessage(typ, data)
	}

	for {
		select {
		case <-p.done:
			_ = write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case data := <-p.out:
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleRequest(p *wsPeer, req WSRequest) {
	switch req.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		if len(req.Channels) == 0 {
			p.fail(req, "channels required")
			return
		}
		p.mu.Lock()
		for _, ch := range req.Channels {
			if req.Type == WSTypeSubscribe {
				p.subs[ch] = struct{}{}
			} else {
				delete(p.subs, ch)
			}
		}
		p.mu.Unlock()
		p.reply(req, WSTypeResponse, map[string]any{req.Type + "d": req.Channels})
	case WSTypePing:
		p.reply(req, WSTypePong, nil)
	case WSTypeSnapshot:
		fn := s.hub.snapshotFunc()
		if fn == nil {
			p.fail(req, "snapshot not available")
			return
		}
		p.reply(req, WSTypeResponse, fn())
	default:
		p.fail(req, "unknown frame type: "+req.Type)
	}
}
