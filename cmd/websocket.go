package main

import (
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"masterskayaBack/internal/models"
)

/********** тайминги **********/
const (
	readLimit          = 1 << 20          // 1 MB
	readDeadline       = 90 * time.Second // дедлайн чтения (продлевается pong-кадром)
	writeDeadline      = 5 * time.Second  // дедлайн записи
	defaultHeartbeatInterval = 25 * time.Second // период ping-кадров
	firstHelloDeadline = 30 * time.Second // время на первый кадр {userId}
	eventQueueSize     = 256
)

/*****************************/

type wsClient struct {
	userID   int
	role     string
	conn     *websocket.Conn
	channels map[string]bool
	alive    bool
}

type wsSubscribe struct {
	conn     *websocket.Conn
	channels []string
}

// WebSocketManager fans ledger events out to connected clients. The clients
// map is owned by Run; every mutation goes through a channel.
type WebSocketManager struct {
	clients    map[*websocket.Conn]*wsClient
	events     chan models.Event
	register   chan *wsClient
	unregister chan *websocket.Conn
	subscribes chan wsSubscribe
	pongs      chan *websocket.Conn
	infoLog    *log.Logger
	errorLog   *log.Logger

	// период ping-кадров; выставляется до запуска Run
	heartbeatInterval time.Duration
}

func NewWebSocketManager(infoLog, errorLog *log.Logger) *WebSocketManager {
	return &WebSocketManager{
		clients:           make(map[*websocket.Conn]*wsClient),
		events:            make(chan models.Event, eventQueueSize),
		register:          make(chan *wsClient),
		unregister:        make(chan *websocket.Conn),
		subscribes:        make(chan wsSubscribe),
		pongs:             make(chan *websocket.Conn),
		infoLog:           infoLog,
		errorLog:          errorLog,
		heartbeatInterval: defaultHeartbeatInterval,
	}
}

// Publish queues an event for delivery. Never blocks: under backpressure the
// event is dropped with a log line, clients re-sync over HTTP anyway.
func (ws *WebSocketManager) Publish(event models.Event) {
	select {
	case ws.events <- event:
	default:
		ws.errorLog.Printf("WS queue full, dropped %s event", event.Type)
	}
}

// Все операции с clients — только здесь.
func (ws *WebSocketManager) Run() {
	heartbeat := time.NewTicker(ws.heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case client := <-ws.register:
			ws.clients[client.conn] = client
			ws.infoLog.Printf("WS register user=%d role=%s", client.userID, client.role)

		case conn := <-ws.unregister:
			if _, ok := ws.clients[conn]; ok {
				_ = conn.Close()
				delete(ws.clients, conn)
			}

		case sub := <-ws.subscribes:
			if client, ok := ws.clients[sub.conn]; ok {
				for _, ch := range sub.channels {
					ch = strings.TrimSpace(ch)
					// роль-каналы выдаются только по роли из hello
					if ch == "" || (strings.HasPrefix(ch, "role:") && ch != "role:"+client.role) {
						continue
					}
					client.channels[ch] = true
				}
			}

		case conn := <-ws.pongs:
			if client, ok := ws.clients[conn]; ok {
				client.alive = true
			}

		case event := <-ws.events:
			targets := eventChannels(event)
			for conn, client := range ws.clients {
				if !subscribed(client, targets) {
					continue
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
				if err := conn.WriteJSON(event); err != nil {
					ws.errorLog.Printf("WS send error to=%d: %v", client.userID, err)
					_ = conn.Close()
					delete(ws.clients, conn)
				}
			}

		case <-heartbeat.C:
			for conn, client := range ws.clients {
				if !client.alive {
					ws.infoLog.Printf("WS heartbeat timeout user=%d", client.userID)
					_ = writeClose(conn, websocket.CloseGoingAway, "heartbeat timeout")
					_ = conn.Close()
					delete(ws.clients, conn)
					continue
				}
				client.alive = false
				_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
				if err := conn.WriteJSON(models.Event{Type: models.EventPing}); err != nil {
					_ = conn.Close()
					delete(ws.clients, conn)
				}
			}
		}
	}
}

// eventChannels resolves the routing hints of an event to channel names.
func eventChannels(event models.Event) map[string]bool {
	out := make(map[string]bool, len(event.Channels)+len(event.UserIDs)+len(event.Roles))
	for _, ch := range event.Channels {
		out[ch] = true
	}
	for _, id := range event.UserIDs {
		out[fmt.Sprintf("user:%d", id)] = true
	}
	for _, role := range event.Roles {
		out["role:"+role] = true
	}
	return out
}

func subscribed(client *wsClient, targets map[string]bool) bool {
	for ch := range targets {
		if client.channels[ch] {
			return true
		}
	}
	return false
}

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true }, // при необходимости — белый список Origin
	ReadBufferSize:    1024,
	WriteBufferSize:   1024,
	EnableCompression: true,
}

// Первым фреймом клиент обязан прислать { "userId": <int>, "role": "..." }.
func (app *application) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		app.errorLog.Println("WebSocket upgrade error:", err)
		return
	}

	conn.SetReadLimit(readLimit)
	conn.SetReadDeadline(time.Now().Add(firstHelloDeadline)) // ждём hello

	var hello struct {
		UserID int    `json:"userId"`
		Role   string `json:"role"`
	}
	if err := conn.ReadJSON(&hello); err != nil || hello.UserID == 0 {
		app.errorLog.Println("invalid hello payload:", err)
		_ = writeClose(conn, websocket.ClosePolicyViolation, "hello required")
		_ = conn.Close()
		return
	}
	conn.SetReadDeadline(time.Now().Add(readDeadline))

	client := &wsClient{
		userID:   hello.UserID,
		role:     hello.Role,
		conn:     conn,
		channels: map[string]bool{fmt.Sprintf("user:%d", hello.UserID): true},
		alive:    true,
	}
	if hello.Role == "admin" {
		client.channels[models.ChannelAdminRole] = true
		client.channels[models.ChannelSystem] = true
	}
	app.wsManager.register <- client

	go app.readClientFrames(conn)
}

// readClientFrames consumes inbound frames: pong replies and channel
// subscriptions. Anything else is ignored.
func (app *application) readClientFrames(conn *websocket.Conn) {
	defer func() {
		app.wsManager.unregister <- conn
	}()

	for {
		var frame struct {
			Type     string   `json:"type"`
			Channels []string `json:"channels"`
		}
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(readDeadline))

		switch frame.Type {
		case models.EventPong:
			app.wsManager.pongs <- conn
		case models.EventSubscribe:
			if len(frame.Channels) > 0 {
				app.wsManager.subscribes <- wsSubscribe{conn: conn, channels: frame.Channels}
			}
		}
	}
}

// аккуратная отправка close-фрейма
func writeClose(conn *websocket.Conn, code int, reason string) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(writeDeadline),
	)
}
