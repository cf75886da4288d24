package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"pagechat/internal/coordinator"
	"pagechat/internal/router"
)

const (
	// Requests carry whole page text, well past the library's 32 KiB default.
	readLimit    = 8 << 20
	writeTimeout = 10 * time.Second
)

// handleWebSocket runs one foreground connection: accept, attach a sink for
// its origin, then read requests until the peer goes away.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if origin := r.Header.Get("Origin"); origin != "" && !g.originAllowed(origin, r.Host) {
		log.Printf("[gateway] rejected websocket from origin %q", origin)
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	// Origin is checked above; extension origins never match the host.
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		log.Printf("[gateway] websocket accept failed: %v", err)
		return
	}
	conn.SetReadLimit(readLimit)

	id := r.URL.Query().Get("tab")
	if id == "" {
		id = uuid.NewString()
	}
	c := &client{
		origin: coordinator.Origin("ws:" + id),
		conn:   conn,
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	detach := g.router.Attach(c.origin, router.SinkFunc(c.deliver))
	log.Printf("[gateway] %s connected", c.origin)

	err = c.readLoop(ctx, g.router)

	detach()
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		log.Printf("[gateway] %s disconnected", c.origin)
	default:
		log.Printf("[gateway] %s disconnected: %v", c.origin, err)
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

// originAllowed checks a browser Origin header. Without an allowlist only
// pages served by this host may connect.
func (g *Gateway) originAllowed(origin, host string) bool {
	if !g.origins.Open() {
		return g.origins.IsAllowed(origin)
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && strings.EqualFold(u.Host, host)
}

type client struct {
	origin coordinator.Origin
	conn   *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func (c *client) readLoop(ctx context.Context, rt *router.Router) error {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			c.closed = true
			c.mu.Unlock()
			return err
		}

		var req router.Request
		if err := json.Unmarshal(data, &req); err != nil {
			c.send(router.Response{Type: "response", Error: "invalid message format", ErrorKind: "request"})
			continue
		}
		rt.Dispatch(ctx, c.origin, req, func(resp router.Response) { c.send(resp) })
	}
}

// deliver writes a push. It fails once the connection is gone so the router
// can log the drop.
func (c *client) deliver(p coordinator.Push) error {
	return c.write(p)
}

func (c *client) send(resp router.Response) {
	if err := c.write(resp); err != nil {
		log.Printf("[gateway] %s: response %s: %v", c.origin, resp.ID, err)
	}
}

var errClosed = errors.New("connection closed")

func (c *client) write(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, c.conn, v)
}
