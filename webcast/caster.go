package webcast

import (
	"log"
	"sync"
	"time"

	"github.com/greendrake/hlsstream/marker"
	"github.com/greendrake/hlsstream/util"
	"github.com/greendrake/server_client_hierarchy"
)

// Getter is the read side of the marker cache.
type Getter interface {
	Get(key string, out any) (bool, error)
}

// Caster polls the marker cache and wakes its websocket clients on every newly
// published batch of markers. Clients attach for lifecycle only: nothing is
// sent through the node's Output, so adding one never races a delivery.
type Caster struct {
	server_client_hierarchy.Node
	cache    Getter
	interval time.Duration
	fail     func(error)
	mu       sync.RWMutex
	markers  []marker.Marker
	// closed and replaced whenever a poll finds new markers
	changed chan struct{}
}

func NewCaster(cache Getter, interval time.Duration, fail func(error)) *Caster {
	caster := &Caster{
		cache:    cache,
		interval: interval,
		fail:     fail,
		markers:  []marker.Marker{},
		changed:  make(chan struct{}),
	}
	caster.GetNode().ID = "Caster [" + marker.Key + "]"
	// runs as long as the web node does, with or without websocket clients
	caster.SetPrincipallyClient(true)
	caster.SetTask(func(ch chan bool) {
		for {
			select {
			case <-ch:
				return
			case <-caster.Node.Ctx.Done():
				<-ch
				return
			default:
				if err := caster.Poll(); err != nil {
					log.Printf("%v: %v", caster.GetNode().ID, err)
					caster.fail(err)
					go caster.Stop()
					<-ch
					return
				}
				util.SleepCtx(caster.Node.Ctx, caster.interval)
			}
		}
	})
	return caster
}

// Poll fetches the list once and wakes the clients when something was
// appended since the last poll. A shorter list means the stream restarted; it
// replaces the old one.
func (c *Caster) Poll() error {
	var list []marker.Marker
	if _, err := c.cache.Get(marker.Key, &list); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(list) != len(c.markers) {
		close(c.changed)
		c.changed = make(chan struct{})
	}
	c.markers = list
	return nil
}

// Changed returns a channel closed by the next poll that finds new markers.
// Clients read Markers after it fires and filter what they already sent.
func (c *Caster) Changed() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.changed
}

// Markers returns the list seen at the last poll.
func (c *Caster) Markers() []marker.Marker {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append(make([]marker.Marker, 0, len(c.markers)), c.markers...)
}
