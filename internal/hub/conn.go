package hub

import (
	"sync"

	"fleettrack/internal/wsproto"
)

// Transport is the send side of a subscriber connection. Satisfied by
// *websocket.Conn.
type Transport interface {
	WriteJSON(v any) error
	Close() error
}

// Entitlement is what the subscriber's token lets it see. Admin sees all
// tenants; anyone else only messages of their own tenant.
type Entitlement struct {
	TenantID string
	Admin    bool
}

type outbound struct {
	// sample messages are coalescable per vehicle; everything else is not.
	sample    bool
	vehicleID string
	payload   any
}

// Conn is one live subscriber. The hub exclusively owns these; the writer
// goroutine is the only place the transport is written to.
type Conn struct {
	hub       *Hub
	transport Transport
	ent       Entitlement

	mu     sync.Mutex
	queue  []outbound
	scopes map[wsproto.Scope]struct{}
	closed bool
	// final frames (error reason, bye) the writer emits before closing
	// the transport on a hub-initiated close.
	final []any

	notify chan struct{}
	done   chan struct{}
}

// Entitlement returns what the connection is allowed to see.
func (c *Conn) Entitlement() Entitlement {
	return c.ent
}

// Done closes when the connection has been fully released by the hub.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// SendControl enqueues a non-coalescable frame (ping, bye, errors).
// Returns false when the connection is already closed.
func (c *Conn) SendControl(v any) bool {
	return c.offer(outbound{payload: v})
}

// offer deposits a frame into the send buffer without blocking. Over the
// high watermark old samples are coalesced; if the buffer still exceeds
// the kill threshold the connection is closed as a slow consumer.
func (c *Conn) offer(m outbound) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.queue = append(c.queue, m)
	if len(c.queue) > c.hub.queueHigh {
		c.coalesceLocked()
	}
	kill := len(c.queue) > c.hub.queueKill
	c.mu.Unlock()

	if kill {
		c.hub.closeConn(c, wsproto.CodeSlowConsumer)
		return false
	}
	select {
	case c.notify <- struct{}{}:
	default:
	}
	return true
}

// coalesceLocked keeps only the newest queued sample per vehicle; events
// and control frames are never dropped.
func (c *Conn) coalesceLocked() {
	newestSeen := make(map[string]bool)
	kept := make([]outbound, 0, len(c.queue))
	// Walk newest-first so the newest sample per vehicle survives, then
	// restore order.
	for i := len(c.queue) - 1; i >= 0; i-- {
		m := c.queue[i]
		if m.sample {
			if newestSeen[m.vehicleID] {
				continue
			}
			newestSeen[m.vehicleID] = true
		}
		kept = append(kept, m)
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	c.queue = kept
}

// writeLoop drains the buffer to the transport. It is the only goroutine
// that writes to or closes the transport; a hub-initiated close is
// finished here by emitting the stashed final frames. Any write error
// tears the connection down.
func (c *Conn) writeLoop() {
	for {
		<-c.notify
		for {
			c.mu.Lock()
			if c.closed {
				final := c.final
				c.final = nil
				c.mu.Unlock()
				for _, f := range final {
					// Best-effort: the peer may already be gone.
					_ = c.transport.WriteJSON(f)
				}
				_ = c.transport.Close()
				close(c.done)
				return
			}
			if len(c.queue) == 0 {
				c.mu.Unlock()
				break
			}
			m := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()

			if err := c.transport.WriteJSON(m.payload); err != nil {
				c.hub.closeConn(c, "")
			}
		}
	}
}
