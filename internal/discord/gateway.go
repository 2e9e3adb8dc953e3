package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	gatewayURL          = "wss://gateway.discord.gg/?v=10&encoding=json"
	gatewayWriteTimeout = 5 * time.Second
	reconnectBaseDelay  = 2 * time.Second
	reconnectMaxDelay   = 60 * time.Second
)

// Gateway opcodes.
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatACK   = 11
)

// Intents the bot needs: guild messages, DMs, reactions and message content.
const defaultIntents = 1<<9 | 1<<10 | 1<<12 | 1<<15

// EventHandler receives gateway dispatches. Calls arrive from a single
// goroutine, in gateway order.
type EventHandler interface {
	OnReady(ready Ready)
	OnMessageCreate(msg Message)
	OnReactionAdd(evt ReactionAdd)
}

// Gateway maintains the bot's websocket connection to Discord: identify,
// heartbeats and event dispatch, reconnecting with backoff when the
// connection drops.
type Gateway struct {
	token    string
	url      string
	presence Presence
	handler  EventHandler
	dialer   websocket.Dialer

	// mu serializes writes; the heartbeat goroutine and the read loop both
	// send frames.
	mu sync.Mutex
}

func NewGateway(token string, presence Presence, handler EventHandler) *Gateway {
	return &Gateway{
		token:    token,
		url:      gatewayURL,
		presence: presence,
		handler:  handler,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

type gatewayPayload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  int64           `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

type helloData struct {
	HeartbeatInterval int `json:"heartbeat_interval"`
}

type identifyData struct {
	Token      string             `json:"token"`
	Intents    int                `json:"intents"`
	Properties identifyProperties `json:"properties"`
	Presence   Presence           `json:"presence"`
}

type identifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// Run connects and serves gateway events until ctx is cancelled. Transient
// connection failures are retried with exponential backoff; only a
// cancelled context ends the loop.
func (g *Gateway) Run(ctx context.Context) error {
	delay := reconnectBaseDelay
	for {
		err := g.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("gateway connection lost: %v (reconnecting in %s)", err, delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}

func (g *Gateway) runOnce(ctx context.Context) error {
	conn, _, err := g.dialer.DialContext(ctx, g.url, nil)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	defer conn.Close()

	// Tear the connection down when the context ends so the read loop
	// unblocks promptly.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	hello, err := g.awaitHello(conn)
	if err != nil {
		return err
	}
	if err := g.identify(conn); err != nil {
		return err
	}

	interval := time.Duration(hello.HeartbeatInterval) * time.Millisecond
	if interval <= 0 {
		return errors.New("gateway hello carried no heartbeat interval")
	}

	var lastSeq int64
	var seqMu sync.Mutex

	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	defer cancelHeartbeat()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-heartbeatCtx.Done():
				return
			case <-ticker.C:
				seqMu.Lock()
				seq := lastSeq
				seqMu.Unlock()
				if err := g.send(conn, gatewayPayload{Op: opHeartbeat, D: mustJSON(seq)}); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		var payload gatewayPayload
		if err := conn.ReadJSON(&payload); err != nil {
			return fmt.Errorf("gateway read: %w", err)
		}
		if payload.S != 0 {
			seqMu.Lock()
			lastSeq = payload.S
			seqMu.Unlock()
		}

		switch payload.Op {
		case opDispatch:
			g.dispatch(payload)
		case opHeartbeat:
			seqMu.Lock()
			seq := lastSeq
			seqMu.Unlock()
			if err := g.send(conn, gatewayPayload{Op: opHeartbeat, D: mustJSON(seq)}); err != nil {
				return err
			}
		case opReconnect, opInvalidSession:
			return fmt.Errorf("gateway requested reconnect (op %d)", payload.Op)
		case opHeartbeatACK:
			// Nothing to do.
		}
	}
}

func (g *Gateway) awaitHello(conn *websocket.Conn) (helloData, error) {
	var payload gatewayPayload
	if err := conn.ReadJSON(&payload); err != nil {
		return helloData{}, fmt.Errorf("await hello: %w", err)
	}
	if payload.Op != opHello {
		return helloData{}, fmt.Errorf("expected hello, got op %d", payload.Op)
	}
	var hello helloData
	if err := json.Unmarshal(payload.D, &hello); err != nil {
		return helloData{}, fmt.Errorf("decode hello: %w", err)
	}
	return hello, nil
}

func (g *Gateway) identify(conn *websocket.Conn) error {
	data := identifyData{
		Token:   g.token,
		Intents: defaultIntents,
		Properties: identifyProperties{
			OS:      "linux",
			Browser: "unllamabot",
			Device:  "unllamabot",
		},
		Presence: g.presence,
	}
	return g.send(conn, gatewayPayload{Op: opIdentify, D: mustJSON(data)})
}

func (g *Gateway) dispatch(payload gatewayPayload) {
	switch payload.T {
	case "READY":
		var ready Ready
		if err := json.Unmarshal(payload.D, &ready); err != nil {
			log.Printf("gateway: decode READY: %v", err)
			return
		}
		g.handler.OnReady(ready)
	case "MESSAGE_CREATE":
		var msg Message
		if err := json.Unmarshal(payload.D, &msg); err != nil {
			log.Printf("gateway: decode MESSAGE_CREATE: %v", err)
			return
		}
		g.handler.OnMessageCreate(msg)
	case "MESSAGE_REACTION_ADD":
		var evt ReactionAdd
		if err := json.Unmarshal(payload.D, &evt); err != nil {
			log.Printf("gateway: decode MESSAGE_REACTION_ADD: %v", err)
			return
		}
		g.handler.OnReactionAdd(evt)
	}
}

func (g *Gateway) send(conn *websocket.Conn, payload gatewayPayload) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(gatewayWriteTimeout))
	return conn.WriteJSON(payload)
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
