// Package push keeps the open websocket connections of signed-in riders.
package push

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var ErrNoSession = errors.New("no websocket session")

const writeWait = 10 * time.Second

// Conn is one browser tab. Writes are serialized because gorilla
// connections allow a single concurrent writer.
type Conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func NewConn(ws *websocket.Conn) *Conn { return &Conn{ws: ws} }

func (c *Conn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

func (c *Conn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *Conn) Close() error { return c.ws.Close() }

// Registry holds the connections of each user.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]map[*Conn]struct{}
}

func NewRegistry() *Registry { return &Registry{conns: make(map[string]map[*Conn]struct{})} }

func (r *Registry) Add(userID string, c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[userID]
	if !ok {
		set = make(map[*Conn]struct{})
		r.conns[userID] = set
	}
	set[c] = struct{}{}
}

func (r *Registry) Remove(userID string, c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.conns[userID]
	delete(set, c)
	if len(set) == 0 {
		delete(r.conns, userID)
	}
}

func (r *Registry) Count(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID])
}

// Notify sends msg to every connection of userID. Connections that fail to
// accept the write are dropped.
func (r *Registry) Notify(userID string, msg any) error {
	r.mu.RLock()
	targets := make([]*Conn, 0, len(r.conns[userID]))
	for c := range r.conns[userID] {
		targets = append(targets, c)
	}
	r.mu.RUnlock()
	if len(targets) == 0 {
		return ErrNoSession
	}
	var errs []error
	for _, c := range targets {
		if err := c.Send(msg); err != nil {
			errs = append(errs, err)
			r.Remove(userID, c)
			_ = c.Close()
		}
	}
	if len(errs) == len(targets) {
		return errors.Join(errs...)
	}
	return nil
}
