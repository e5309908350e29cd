package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"verbapost/internal/pkg/logger"
	"verbapost/internal/service/order/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool { // 前端与 API 可能不同源
		return true
	},
}

// Hub 维护按订单分组的 WebSocket 连接，每次订单持久化后推送最新快照。
// 实现 port.StageObserver。
type Hub struct {
	describe   func(*domain.Order) any
	clients    map[string]map[*wsClient]bool // 使用订单 ID 作为 Key
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	lock       sync.RWMutex
}

func NewHub(describe func(*domain.Order) any) *Hub {
	return &Hub{
		describe:   describe,
		clients:    make(map[string]map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
	}
}

// Run 处理注册与注销，直到 ctx 结束。
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.lock.Lock()
			for _, set := range h.clients {
				for c := range set {
					close(c.send)
				}
			}
			h.clients = make(map[string]map[*wsClient]bool)
			h.lock.Unlock()
			return
		case c := <-h.register:
			h.lock.Lock()
			if h.clients[c.orderID] == nil {
				h.clients[c.orderID] = make(map[*wsClient]bool)
			}
			h.clients[c.orderID][c] = true
			h.lock.Unlock()
		case c := <-h.unregister:
			h.lock.Lock()
			if set, ok := h.clients[c.orderID]; ok && set[c] {
				delete(set, c)
				close(c.send)
				if len(set) == 0 {
					delete(h.clients, c.orderID)
				}
			}
			h.lock.Unlock()
		}
	}
}

// OrderChanged 把订单快照推送给订阅该订单的所有连接。发送缓冲已满的连接跳过本次推送。
func (h *Hub) OrderChanged(ctx context.Context, o *domain.Order) {
	if o.ID == "" {
		return
	}
	h.lock.RLock()
	defer h.lock.RUnlock()
	set := h.clients[o.ID]
	if len(set) == 0 {
		return
	}
	payload, err := json.Marshal(h.describe(o))
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("order", o.ID).Msg("failed to marshal order snapshot")
		return
	}
	for c := range set {
		select {
		case c.send <- payload:
		default:
			logger.Ctx(ctx).Warn().Str("order", o.ID).Msg("websocket client is slow, snapshot dropped")
		}
	}
}

// Subscribers 返回订阅某订单的连接数。
func (h *Hub) Subscribers(orderID string) int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.clients[orderID])
}

// ServeWS 把 HTTP 连接升级为 WebSocket，并立即推送一次当前快照。
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, initial *domain.Order) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &wsClient{hub: h, conn: conn, send: make(chan []byte, 16), orderID: initial.ID}
	if payload, err := json.Marshal(h.describe(initial)); err == nil {
		c.send <- payload
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

type wsClient struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	orderID string
}

// writePump 负责将 send channel 中的消息写入 websocket，并定期发送 ping。
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 只处理心跳；客户端不通过 websocket 推进订单。
func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
