package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	reconnectBase = time.Second
	reconnectStep = time.Second
	reconnectMax  = 30 * time.Second
	readTimeout   = 90 * time.Second
	pingInterval  = 30 * time.Second
)

// wsConn is the slice of *websocket.Conn the read loop needs, injectable
// for tests.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

type dialFunc func(ctx context.Context, url, token string) (wsConn, error)

func wsDial(ctx context.Context, url, token string) (wsConn, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// runPushClient dials the push endpoint and reads messages until the
// registry is stopped. Reconnects forever with a steadily growing delay;
// a successful connection resets the delay.
func (r *Registry) runPushClient() {
	defer r.wg.Done()

	delay := reconnectBase
	for {
		if r.ctx.Err() != nil {
			return
		}
		conn, err := r.dial(r.ctx, r.serverURL, r.authToken)
		if err != nil {
			r.log.Warn("push channel dial failed", "url", r.serverURL, "retry_in", delay, "error", err)
			select {
			case <-r.ctx.Done():
				return
			case <-time.After(delay):
			}
			if delay += reconnectStep; delay > reconnectMax {
				delay = reconnectMax
			}
			continue
		}

		r.log.Info("push channel connected", "url", r.serverURL)
		delay = reconnectBase
		r.readLoop(conn)
		r.log.Info("push channel disconnected", "url", r.serverURL)
	}
}

// readLoop consumes messages from one connection until it breaks. The first
// sessions.list after a connect is a bootstrap snapshot.
func (r *Registry) readLoop(conn wsConn) {
	defer conn.Close()

	// Unblock the blocking read when the registry stops.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-r.ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	go r.keepAlive(conn, done)

	bootstrap := true
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if r.ctx.Err() == nil {
				r.log.Warn("push channel read failed", "error", err)
			}
			return
		}
		var msg pushMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			r.log.Warn("malformed push message", "error", err)
			continue
		}
		r.handleMessage(msg, bootstrap && msg.Type == "sessions.list")
		if msg.Type == "sessions.list" {
			bootstrap = false
		}
	}
}

func (r *Registry) keepAlive(conn wsConn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}
