package main

import (
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"masterskayaBack/internal/models"
)

func newTestHub(t *testing.T) (*application, *httptest.Server) {
	return newTestHubHeartbeat(t, defaultHeartbeatInterval)
}

func newTestHubHeartbeat(t *testing.T, interval time.Duration) (*application, *httptest.Server) {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)
	app := &application{
		infoLog:   quiet,
		errorLog:  quiet,
		wsManager: NewWebSocketManager(quiet, quiet),
	}
	app.wsManager.heartbeatInterval = interval
	go app.wsManager.Run()
	srv := httptest.NewServer(http.HandlerFunc(app.WebSocketHandler))
	t.Cleanup(srv.Close)
	return app, srv
}

func dialHub(t *testing.T, srv *httptest.Server, hello string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := conn.WriteMessage(websocket.TextMessage, []byte(hello)); err != nil {
		t.Fatal(err)
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration) (models.Event, error) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	var ev models.Event
	err := conn.ReadJSON(&ev)
	return ev, err
}

func TestHubTargetedDelivery(t *testing.T) {
	app, srv := newTestHub(t)

	target := dialHub(t, srv, `{"userId":123}`)
	other := dialHub(t, srv, `{"userId":456}`)

	time.Sleep(100 * time.Millisecond) // ждём регистрации в run-цикле

	app.wsManager.Publish(models.Event{
		Type:    models.EventInvoiceUpdate,
		Data:    models.InvoiceUpdateData{InvoiceID: 7, Status: models.InvoiceStatusPaid},
		UserIDs: []int{123},
	})

	ev, err := readEvent(t, target, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Type != models.EventInvoiceUpdate {
		t.Fatalf("event type = %s", ev.Type)
	}

	// второй клиент ничего не получает
	if ev, err := readEvent(t, other, 300*time.Millisecond); err == nil {
		t.Fatalf("unexpected event for other user: %+v", ev)
	}
}

func TestHubAdminRoleChannel(t *testing.T) {
	app, srv := newTestHub(t)

	admin := dialHub(t, srv, `{"userId":1,"role":"admin"}`)
	user := dialHub(t, srv, `{"userId":2}`)

	time.Sleep(100 * time.Millisecond)

	app.wsManager.Publish(models.Event{
		Type:  models.EventMasterClassUpdate,
		Data:  models.MasterClassUpdateData{MasterClassID: 5, SeatsPaid: 3},
		Roles: []string{"admin"},
	})

	ev, err := readEvent(t, admin, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Type != models.EventMasterClassUpdate {
		t.Fatalf("event type = %s", ev.Type)
	}
	if ev, err := readEvent(t, user, 300*time.Millisecond); err == nil {
		t.Fatalf("role event leaked to plain user: %+v", ev)
	}
}

func TestHubSubscribeFrame(t *testing.T) {
	app, srv := newTestHub(t)

	conn := dialHub(t, srv, `{"userId":9}`)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe","channels":["system"]}`)); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	app.wsManager.Publish(models.Event{
		Type:     models.EventNotification,
		Data:     models.NotificationData{Title: "t", Body: "b"},
		Channels: []string{models.ChannelSystem},
	})

	ev, err := readEvent(t, conn, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Type != models.EventNotification {
		t.Fatalf("event type = %s", ev.Type)
	}
}

func TestHubRejectsRoleChannelSubscription(t *testing.T) {
	app, srv := newTestHub(t)

	conn := dialHub(t, srv, `{"userId":9}`)
	// обычный пользователь не может подписаться на role:admin
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe","channels":["role:admin"]}`)); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	app.wsManager.Publish(models.Event{
		Type:  models.EventMasterClassUpdate,
		Roles: []string{"admin"},
	})
	if ev, err := readEvent(t, conn, 300*time.Millisecond); err == nil {
		t.Fatalf("role channel leaked: %+v", ev)
	}
}

func TestHubHeartbeatEvictsSilentClient(t *testing.T) {
	_, srv := newTestHubHeartbeat(t, 50*time.Millisecond)

	conn := dialHub(t, srv, `{"userId":77}`)

	// клиент молчит: пропускает два ping-кадра подряд
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var closeErr error
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			closeErr = err
			break
		}
	}
	if !websocket.IsCloseError(closeErr, websocket.CloseGoingAway) {
		t.Fatalf("expected going-away close after two missed heartbeats, got %v", closeErr)
	}
}

func TestHubHeartbeatPongKeepsClientAlive(t *testing.T) {
	app, srv := newTestHubHeartbeat(t, 50*time.Millisecond)

	conn := dialHub(t, srv, `{"userId":88}`)

	pong := func() {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`)); err != nil {
			t.Fatal(err)
		}
	}

	// переживаем три ping-а — дольше двух интервалов, отведённых на выселение
	pings := 0
	for pings < 3 {
		ev, err := readEvent(t, conn, 2*time.Second)
		if err != nil {
			t.Fatalf("evicted while answering pings: %v", err)
		}
		if ev.Type == models.EventPing {
			pings++
			pong()
		}
	}

	app.wsManager.Publish(models.Event{
		Type:    models.EventInvoiceUpdate,
		Data:    models.InvoiceUpdateData{InvoiceID: 3, Status: models.InvoiceStatusPaid},
		UserIDs: []int{88},
	})
	for {
		ev, err := readEvent(t, conn, 2*time.Second)
		if err != nil {
			t.Fatal(err)
		}
		if ev.Type == models.EventInvoiceUpdate {
			return
		}
		if ev.Type == models.EventPing {
			pong()
		}
	}
}

func TestHubRequiresHello(t *testing.T) {
	_, srv := newTestHub(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"bogus":true}`)); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("connection without hello must be closed")
	}
}

func TestEventChannels(t *testing.T) {
	got := eventChannels(models.Event{
		Channels: []string{"system"},
		UserIDs:  []int{7},
		Roles:    []string{"admin"},
	})
	for _, ch := range []string{"system", "user:7", "role:admin"} {
		if !got[ch] {
			t.Fatalf("missing channel %s in %v", ch, got)
		}
	}
}
