package webcast

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/greendrake/hlsstream/marker"
	"github.com/greendrake/server_client_hierarchy"
	"golang.org/x/net/websocket"
)

const WriteTimeout = time.Second

// Message is what goes down the websocket, same shape as GET /markers.
type Message struct {
	Markers []marker.Marker `json:"markers"`
}

// Client is a principally client Node.
// It attaches to the Caster on creation and serves one websocket until either side hangs up.
type Client struct {
	server_client_hierarchy.Node
	caster             *Caster
	stopCommandChannel chan bool
	ws                 *websocket.Conn
	wsWriteMutex       sync.Mutex
	// set once the websocket handshake succeeded
	upgraded bool
	done     chan struct{}
	doneOnce sync.Once
	// time of the newest marker sent
	after float64
}

func NewClient(c *gin.Context, caster *Caster, after float64) *Client {
	client := &Client{
		caster: caster,
		done:   make(chan struct{}),
		after:  after,
	}
	client.GetNode().ID = "Client " + uuid.New().String() + ", caster " + caster.GetNode().ID
	client.SetPrincipallyClient(true)
	client.On("stop", func(...any) {
		client.doneOnce.Do(func() { close(client.done) })
	})
	client.SetTask(func(ch chan bool) {
		client.stopCommandChannel = ch
		handler := websocket.Handler(client.wsHandler)
		handler.ServeHTTP(c.Writer, c.Request)
		if !client.upgraded {
			// the handshake failed and a plain HTTP error went out
			go client.Stop()
			<-ch
		}
	})
	caster.AddClient(client)
	return client
}

// Done is closed once the client has stopped and left the caster.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// sendAfter writes the markers newer than anything sent so far.
// Callers hold wsWriteMutex.
func (c *Client) sendAfter(list []marker.Marker) {
	fresh := marker.After(list, c.after)
	if len(fresh) == 0 || c.ws == nil {
		return
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(WriteTimeout)); err != nil {
		go c.stopAndClose()
		return
	}
	if err := websocket.JSON.Send(c.ws, Message{Markers: fresh}); err != nil {
		go c.stopAndClose()
		return
	}
	c.after = fresh[len(fresh)-1].Time
}

// push sends what is new and returns the channel of the next change.
func (c *Client) push() <-chan struct{} {
	changed := c.caster.Changed()
	c.wsWriteMutex.Lock()
	c.sendAfter(c.caster.Markers())
	c.wsWriteMutex.Unlock()
	return changed
}

func (c *Client) wsHandler(ws *websocket.Conn) {
	c.upgraded = true
	defer c.stopAndClose()
	c.wsWriteMutex.Lock()
	c.ws = ws
	c.wsWriteMutex.Unlock()
	changed := c.push()
	// This is needed to detect WS disconnection by the browser
	go func() {
		var message string
		for {
			if err := websocket.Message.Receive(ws, &message); err != nil {
				c.stopAndClose()
				return
			}
		}
	}()
	for {
		select {
		case <-c.Node.Ctx.Done():
			<-c.stopCommandChannel
			return
		case <-c.stopCommandChannel:
			return
		case <-changed:
			changed = c.push()
		}
	}
}

func (c *Client) stopAndClose() {
	c.wsWriteMutex.Lock()
	if c.ws != nil {
		c.ws.Close()
		c.ws = nil
	}
	c.wsWriteMutex.Unlock()
	c.Stop()
}
