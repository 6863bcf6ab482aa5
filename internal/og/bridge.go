package og

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradecore/pkg/backoff"
	"tradecore/pkg/exception"
)

// BridgeConfig points at an execution sidecar that fronts the real venues.
type BridgeConfig struct {
	BaseURL     string          `json:"baseUrl" yaml:"base_url" validate:"required,url"`
	EventsURL   string          `json:"eventsUrl" yaml:"events_url" validate:"required,url"`
	APIKey      string          `json:"apiKey" yaml:"api_key"`
	HTTPTimeout time.Duration   `json:"httpTimeout" yaml:"http_timeout"`
	Reconnect   backoff.Backoff `json:"reconnect" yaml:"reconnect"`
	EventBuffer int             `json:"eventBuffer" yaml:"event_buffer"`
}

func (c BridgeConfig) withDefaults() BridgeConfig {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 15 * time.Second
	}
	if c.Reconnect == (backoff.Backoff{}) {
		c.Reconnect = backoff.Reconnect()
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 1024
	}
	return c
}

type placeResponse struct {
	VenueOrderID string `json:"venueOrderId"`
	Error        string `json:"error,omitempty"`
}

// Bridge is the live gateway: REST for commands, a websocket stream for
// order events.
type Bridge struct {
	cfg    BridgeConfig
	hc     *http.Client
	dialer *websocket.Dialer

	events    chan Event
	connected atomic.Bool
}

// NewBridge creates a bridge gateway. Run must be started to receive events.
func NewBridge(cfg BridgeConfig) *Bridge {
	cfg = cfg.withDefaults()
	return &Bridge{
		cfg:    cfg,
		hc:     &http.Client{Timeout: cfg.HTTPTimeout},
		dialer: websocket.DefaultDialer,
		events: make(chan Event, cfg.EventBuffer),
	}
}

func (b *Bridge) Events() <-chan Event {
	return b.events
}

func (b *Bridge) Connected() bool {
	return b.connected.Load()
}

// PlaceOrder posts the order to the sidecar.
func (b *Bridge) PlaceOrder(ctx context.Context, req PlaceRequest) (string, error) {
	body, err := sonic.Marshal(req)
	if err != nil {
		return "", Fatal("place order", errors.Wrap(err, "marshal place request"))
	}
	var out placeResponse
	if err := b.do(ctx, http.MethodPost, "/orders", body, &out); err != nil {
		return "", err
	}
	if out.VenueOrderID == "" {
		return "", Fatal("place order", errors.Errorf("empty venue order id, error: %s", out.Error))
	}
	return out.VenueOrderID, nil
}

// CancelOrder deletes the order at the sidecar.
func (b *Bridge) CancelOrder(ctx context.Context, venueOrderID string) error {
	return b.do(ctx, http.MethodDelete, "/orders/"+url.PathEscape(venueOrderID), nil, nil)
}

func (b *Bridge) do(ctx context.Context, method, path string, body []byte, out any) error {
	op := strings.ToLower(method) + " " + path
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.cfg.BaseURL+path, reader)
	if err != nil {
		return Fatal(op, errors.Wrap(err, "new request"))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "tradecore/bridge")
	if b.cfg.APIKey != "" {
		req.Header.Set("X-API-KEY", b.cfg.APIKey)
	}

	res, err := b.hc.Do(req)
	if err != nil {
		return Transient(op, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return Transient(op, errors.Wrap(err, "read body"))
	}
	if res.StatusCode >= 300 {
		return classifyStatus(op, res.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return Fatal(op, errors.Wrap(err, "unmarshal response"))
	}
	return nil
}

// classifyStatus maps sidecar HTTP statuses: auth and validation errors are
// fatal, throttling and server errors transient.
func classifyStatus(op string, status int, body []byte) error {
	err := errors.Errorf("status %d: %s", status, strings.TrimSpace(string(body)))
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return Transient(op, err)
	case status == http.StatusNotFound:
		return Fatal(op, errors.Wrap(exception.ErrUnknownOrder, err.Error()))
	default:
		return Fatal(op, err)
	}
}

// Run keeps the event stream connected until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	defer close(b.events)
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		established, err := b.stream(ctx)
		b.connected.Store(false)
		if ctx.Err() != nil {
			return nil
		}
		if established {
			attempt = 0
		}
		attempt++
		wait := b.cfg.Reconnect.Next(attempt)
		logs.Errorf("bridge event stream lost, attempt: %d, retry in: %s, err: %+v", attempt, wait, err)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (b *Bridge) stream(ctx context.Context) (bool, error) {
	header := http.Header{}
	if b.cfg.APIKey != "" {
		header.Set("X-API-KEY", b.cfg.APIKey)
	}
	conn, _, err := b.dialer.DialContext(ctx, b.cfg.EventsURL, header)
	if err != nil {
		return false, errors.Wrap(err, "dial events")
	}
	defer conn.Close()

	b.connected.Store(true)
	logs.Infof("bridge event stream connected, url: %s", b.cfg.EventsURL)

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return true, errors.Wrap(err, "read event")
		}
		var ev Event
		if err := sonic.Unmarshal(msg, &ev); err != nil {
			logs.Errorf("bridge event decode failed, msg: %s, err: %+v", string(msg), err)
			continue
		}
		select {
		case b.events <- ev:
		case <-ctx.Done():
			return true, nil
		}
	}
}
