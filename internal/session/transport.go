package session

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"

	"github.com/timmy/prospect/internal/domain"
)

// WSDialer opens the service's job event stream over WebSocket.
type WSDialer struct {
	baseURL string
	dialer  *websocket.Dialer
}

// NewWSDialer creates a dialer against the given service base URL
// (http or https; the scheme is rewritten for the socket).
func NewWSDialer(baseURL string) *WSDialer {
	return &WSDialer{
		baseURL: strings.TrimRight(baseURL, "/"),
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Dial connects to the job's event stream.
func (d *WSDialer) Dial(ctx context.Context, jobID string) (Conn, error) {
	u, err := url.Parse(d.baseURL)
	if err != nil {
		return nil, fmt.Errorf("session: bad base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/research/ws/" + jobID

	ws, _, err := d.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("session: dial %s: %w", u.String(), err)
	}
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws *websocket.Conn
}

// Next reads one event off the socket. The context deadline, if any,
// bounds the read.
func (c *wsConn) Next(ctx context.Context) (domain.Event, error) {
	if deadline, ok := ctx.Deadline(); ok {
		c.ws.SetReadDeadline(deadline)
	} else {
		c.ws.SetReadDeadline(time.Time{})
	}
	var evt domain.Event
	if err := c.ws.ReadJSON(&evt); err != nil {
		return domain.Event{}, err
	}
	return evt, nil
}

func (c *wsConn) Close() error {
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}

// HTTPPoller fetches job snapshots from the status endpoint.
type HTTPPoller struct {
	client  *resty.Client
	baseURL string
}

// NewHTTPPoller creates a poller against the given service base URL.
func NewHTTPPoller(baseURL string) *HTTPPoller {
	client := resty.New()
	client.SetTimeout(15 * time.Second)
	return &HTTPPoller{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Poll returns the job's current snapshot.
func (p *HTTPPoller) Poll(ctx context.Context, jobID string) (domain.Job, error) {
	var job domain.Job
	resp, err := p.client.R().
		SetContext(ctx).
		SetResult(&job).
		Get(p.baseURL + "/api/v1/research/" + jobID)
	if err != nil {
		return domain.Job{}, fmt.Errorf("session: poll: %w", err)
	}
	if resp.StatusCode() != 200 {
		return domain.Job{}, fmt.Errorf("session: poll: unexpected status %s", resp.Status())
	}
	return job, nil
}
