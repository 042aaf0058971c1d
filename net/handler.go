package net

import (
	"fmt"
	"sync"
)

// PacketHandler handles one received packet. p is positioned after the packet
// id and is released when the handler returns; handlers must not keep it.
type PacketHandler func(c *Client, p *Packet) error

// HandlerTable maps packet ids to handlers. A table is immutable once built.
type HandlerTable struct {
	handlers map[int32]PacketHandler
}

// Lookup returns the handler registered for id.
func (t HandlerTable) Lookup(id int32) (PacketHandler, bool) {
	h, ok := t.handlers[id]
	return h, ok
}

func (t HandlerTable) Len() int {
	return len(t.handlers)
}

// handlerRegistry collects registrations until a session snapshots them.
type handlerRegistry struct {
	mu       sync.RWMutex
	handlers map[int32]PacketHandler
}

func (r *handlerRegistry) register(id int32, h PacketHandler) error {
	if id < 0 {
		return fmt.Errorf("invalid packet id %d", id)
	}
	if h == nil {
		return fmt.Errorf("nil handler for packet id %d", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers == nil {
		r.handlers = make(map[int32]PacketHandler)
	}
	r.handlers[id] = h
	return nil
}

func (r *handlerRegistry) snapshot() HandlerTable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handlers := make(map[int32]PacketHandler, len(r.handlers))
	for id, h := range r.handlers {
		handlers[id] = h
	}
	return HandlerTable{handlers: handlers}
}
