package cache

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/greendrake/hlsstream/cache/packet"
	"github.com/greendrake/hlsstream/metrics"
	"github.com/greendrake/hlsstream/util"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	DialTimeout    = 5 * time.Second
	RequestTimeout = 5 * time.Second
)

type Client struct {
	addr           string
	name           string
	mu             sync.Mutex
	c              net.Conn
	session        int32
	SessionID      string
	packetSequence uint32
	closed         bool
}

// Dial connects to a marker cache server and authenticates with secret.
// Errors wrap ErrUnavailable; a rejected secret is also a *util.WrongCredentialsError.
func Dial(ctx context.Context, addr, secret, name string) (*Client, error) {
	client := &Client{addr: addr, name: name}
	var dialer net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, DialTimeout)
	defer cancel()
	var err error
	client.c, err = dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if err := client.login(secret); err != nil {
		client.c.Close()
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return client, nil
}

func (c *Client) send(code packet.Code, body any) error {
	data, err := msgpack.Marshal(body)
	if err != nil {
		return err
	}
	c.c.SetWriteDeadline(time.Now().Add(RequestTimeout))
	err = packet.Write(c.c, packet.Header{
		SessionId:      c.session,
		SequenceNumber: c.packetSequence,
		Code:           code,
	}, data)
	c.packetSequence++
	return err
}

func (c *Client) receive(out any) (packet.Code, error) {
	c.c.SetReadDeadline(time.Now().Add(RequestTimeout))
	p, err := packet.Read(c.c)
	if err != nil {
		return 0, err
	}
	if p.Header.Code == packet.ERROR_RSP {
		var rsp statusResponse
		if err := msgpack.Unmarshal(p.Data, &rsp); err != nil {
			return p.Header.Code, err
		}
		return p.Header.Code, fmt.Errorf("server error %d: %s", rsp.Ret, rsp.Msg)
	}
	if out != nil {
		if err := msgpack.Unmarshal(p.Data, out); err != nil {
			return p.Header.Code, err
		}
	}
	return p.Header.Code, nil
}

func (c *Client) login(secret string) error {
	var challenge challengeBody
	code, err := c.receive(&challenge)
	if err != nil {
		return err
	}
	if code != packet.CHALLENGE {
		return fmt.Errorf("Unexpected first packet code: %d", code)
	}
	if err := c.send(packet.LOGIN_REQ, loginRequest{
		Digest: digest(secret, challenge.Nonce),
		Client: c.name,
	}); err != nil {
		return err
	}
	var rsp loginResponse
	code, err = c.receive(&rsp)
	if err != nil {
		return err
	}
	if code != packet.LOGIN_RSP {
		return fmt.Errorf("Unexpected response code to login request: %d", code)
	}
	if rsp.Ret == statusPasswordIsIncorrect {
		return &util.WrongCredentialsError{Msg: statusCodes[rsp.Ret]}
	}
	if rsp.Ret != statusOK {
		return fmt.Errorf("unexpected status code: %v - %v", rsp.Ret, statusCodes[rsp.Ret])
	}
	sid, err := uuid.Parse(rsp.SessionID)
	if err != nil {
		return fmt.Errorf("malformed session id %q: %w", rsp.SessionID, err)
	}
	c.SessionID = rsp.SessionID
	c.session = int32(sid.ID())
	return nil
}

// request performs one round trip. Any transport failure leaves the client
// unusable and is reported as ErrUnavailable.
func (c *Client) request(op string, code packet.Code, body any, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.roundTrip(code, body, out)
	metrics.CacheResult(op, err)
	return err
}

func (c *Client) roundTrip(code packet.Code, body any, out any) error {
	if c.closed {
		return ErrClosed
	}
	if err := c.send(code, body); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	got, err := c.receive(out)
	if err != nil {
		if got == packet.ERROR_RSP {
			return err
		}
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if got != packet.Response(code) {
		return fmt.Errorf("Unexpected response code %d to request %d", got, code)
	}
	return nil
}

// Update upserts several entries at once.
func (c *Client) Update(entries map[string]any) error {
	req := updateRequest{Entries: make(map[string][]byte, len(entries))}
	for k, v := range entries {
		b, err := msgpack.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %q: %w", k, err)
		}
		req.Entries[k] = b
	}
	var rsp statusResponse
	if err := c.request("update", packet.UPDATE_REQ, req, &rsp); err != nil {
		return err
	}
	if rsp.Ret != statusOK {
		return fmt.Errorf("update failed: %v - %v", rsp.Ret, statusCodes[rsp.Ret])
	}
	return nil
}

func (c *Client) Set(key string, value any) error {
	return c.Update(map[string]any{key: value})
}

func (c *Client) Get(key string, out any) (bool, error) {
	var rsp getResponse
	if err := c.request("get", packet.GET_REQ, getRequest{Key: key}, &rsp); err != nil {
		return false, err
	}
	if !rsp.Found {
		return false, nil
	}
	if err := msgpack.Unmarshal(rsp.Value, out); err != nil {
		return true, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

func (c *Client) Ping() error {
	return c.request("keepalive", packet.KEEPALIVE_REQ, nil, nil)
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.c.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
