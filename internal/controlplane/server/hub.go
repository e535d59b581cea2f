package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/betbot/botdash/internal/botsync"
	"github.com/betbot/botdash/pkg/sigchan"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsSendBuffer   = 16
)

// frame 推送给浏览器的消息
type frame struct {
	Type     string             `json:"type"` // snapshot | notice
	Snapshot *botsync.Snapshot `json:"snapshot,omitempty"`
	Notice   *botsync.Notice   `json:"notice,omitempty"`
}

// hub 管理 WebSocket 连接。快照变化通过 sigchan 合并，只推送最新一份。
type hub struct {
	upgrader websocket.Upgrader
	current  func() botsync.Snapshot

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	latest  *botsync.Snapshot

	dirty  *sigchan.Chan
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

func newHub(current func() botsync.Snapshot) *hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// 本地控制面，允许任意来源
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		current: current,
		clients: map[*wsClient]struct{}{},
		dirty:   sigchan.New(1),
		cancel:  cancel,
	}
	h.wg.Add(1)
	go h.broadcastLoop(ctx)
	return h
}

func (h *hub) publishSnapshot(s botsync.Snapshot) {
	h.mu.Lock()
	h.latest = &s
	h.mu.Unlock()
	h.dirty.Emit()
}

func (h *hub) publishNotice(n botsync.Notice) {
	data, err := json.Marshal(frame{Type: "notice", Notice: &n})
	if err != nil {
		return
	}
	h.broadcast(data)
}

func (h *hub) broadcastLoop(ctx context.Context) {
	defer h.wg.Done()
	for h.dirty.Wait(ctx) {
		h.mu.Lock()
		snap := h.latest
		h.latest = nil
		h.mu.Unlock()
		if snap == nil {
			continue
		}
		data, err := json.Marshal(frame{Type: "snapshot", Snapshot: snap})
		if err != nil {
			serverLog.WithError(err).Error("marshal snapshot")
			continue
		}
		h.broadcast(data)
	}
}

// broadcast 慢客户端（发送缓冲满）直接断开
func (h *hub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			delete(h.clients, c)
			c.close()
		}
	}
}

func (h *hub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		serverLog.WithError(err).Warn("websocket upgrade failed")
		return
	}
	c := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}

	// 新连接先收到当前快照
	snap := h.current()
	if data, err := json.Marshal(frame{Type: "snapshot", Snapshot: &snap}); err == nil {
		c.send <- data
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.writePump(c)
	}()
	h.readPump(c)
}

// readPump 只处理 close/pong，浏览器不发业务消息
func (h *hub) readPump(c *wsClient) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		c.close()
	}()
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *hub) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// close 断开所有连接并等待 goroutine 退出
func (h *hub) close() {
	h.cancel()
	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
	h.wg.Wait()
}
