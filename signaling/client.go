// Package signaling is the websocket signaling channel the receiver listens
// on. The server assigns the identity over HTTP, then relays call setup
// frames over a per-identity websocket.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	receiver "github.com/bt-bridge/xr-receiver"
	"github.com/bt-bridge/xr-receiver/shared"
	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const (
	writeWait         = 5 * time.Second
	defaultPingPeriod = 30 * time.Second
	messageBuffer     = 32
)

type identityResponse struct {
	ID string `json:"id"`
}

// Client implements receiver.Signaling.
type Client struct {
	logger     shared.LoggerAdapter
	baseURL    *url.URL
	pingPeriod time.Duration
	dialer     *websocket.Dialer

	msgs chan *receiver.SignalMessage
	done chan struct{}

	mu        sync.Mutex
	conn      *websocket.Conn
	identity  string
	closed    bool
	closeOnce sync.Once
}

var _ receiver.Signaling = (*Client)(nil)

func New(logger shared.LoggerAdapter, cfg shared.SignalingConfig) (*Client, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if cfg.URL == "" {
		return nil, shared.ErrSignalingUnavailable
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing signaling url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("signaling url scheme %q: want http or https", u.Scheme)
	}
	ping := cfg.PingPeriod.Std()
	if ping <= 0 {
		ping = defaultPingPeriod
	}
	return &Client{
		logger:     logger,
		baseURL:    u,
		pingPeriod: ping,
		dialer:     websocket.DefaultDialer,
		msgs:       make(chan *receiver.SignalMessage, messageBuffer),
		done:       make(chan struct{}),
	}, nil
}

// Open requests an identity and connects the websocket for it.
func (c *Client) Open(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", shared.ErrSignalingClosed
	}
	if c.conn != nil {
		id := c.identity
		c.mu.Unlock()
		return id, shared.ErrIdentityAssigned
	}
	c.mu.Unlock()

	id, err := c.requestIdentity(ctx)
	if err != nil {
		return "", err
	}

	wsURL := c.socketURL(id)
	conn, resp, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return "", fmt.Errorf("dialing %s: %w (status %d)", wsURL, err, resp.StatusCode)
		}
		return "", fmt.Errorf("dialing %s: %w", wsURL, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return "", shared.ErrSignalingClosed
	}
	c.conn = conn
	c.identity = id
	c.mu.Unlock()

	conn.SetPongHandler(func(string) error {
		c.logger.Trace("pong")
		return nil
	})
	go c.readPump(conn)
	go c.pingLoop(conn)

	c.logger.Info("signaling channel open", zap.String("identity", id), zap.String("url", wsURL))
	return id, nil
}

func (c *Client) Messages() <-chan *receiver.SignalMessage { return c.msgs }

func (c *Client) Send(ctx context.Context, msg *receiver.SignalMessage) error {
	if msg == nil {
		return errors.New("nil signal message")
	}
	data, err := sonic.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", msg.Type, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return shared.ErrSignalingClosed
	}
	if c.conn == nil {
		return shared.ErrSignalingNotOpen
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("writing %s: %w", msg.Type, err)
	}
	c.logger.Trace("signal sent", zap.String("type", string(msg.Type)), zap.String("call_id", msg.CallID))
	return nil
}

// Close is idempotent. Messages is closed once the read pump exits.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		conn := c.conn
		if conn != nil {
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
		}
		c.mu.Unlock()
		close(c.done)
		if conn != nil {
			if cerr := conn.Close(); cerr != nil {
				err = fmt.Errorf("closing websocket: %w", cerr)
			}
		}
	})
	return err
}

func (c *Client) requestIdentity(ctx context.Context) (string, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL.JoinPath("peers").String())
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "xr-receiver/"+shared.Version)

	errC := make(chan error, 1)
	go func() {
		errC <- fasthttp.Do(req, resp)
	}()
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("requesting identity: %w", ctx.Err())
	case err := <-errC:
		if err != nil {
			return "", fmt.Errorf("requesting identity: %w", err)
		}
	}
	if code := resp.StatusCode(); code != fasthttp.StatusOK && code != fasthttp.StatusCreated {
		return "", fmt.Errorf("unexpected status code: %d, body: %s", code, string(resp.Body()))
	}
	var out identityResponse
	if err := sonic.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("decoding identity: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("server returned an empty identity")
	}
	return out.ID, nil
}

func (c *Client) socketURL(id string) string {
	u := c.baseURL.JoinPath("peers", id, "ws")
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	return u.String()
}

func (c *Client) readPump(conn *websocket.Conn) {
	defer close(c.msgs)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Error("signaling read", err)
			}
			return
		}
		msg := &receiver.SignalMessage{}
		if err := sonic.Unmarshal(data, msg); err != nil {
			c.logger.Warn("dropping malformed signal", zap.Error(err), zap.Int("size", len(data)))
			continue
		}
		c.logger.Trace("signal received", zap.String("type", string(msg.Type)), zap.String("call_id", msg.CallID))
		select {
		case c.msgs <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *Client) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("signaling ping failed", zap.Error(err))
				return
			}
		}
	}
}
