package net

import (
	"fmt"
)

// Delivery is one received packet on its way to a handler.
type Delivery struct {
	Client    *Client
	Transport Transport
	PacketID  int32
	// Packet is positioned after the packet id.
	Packet *Packet
}

// Dispatcher routes packet bodies to the handler registered for their id.
// Each session builds its own dispatcher from a HandlerTable snapshot.
type Dispatcher struct {
	table        HandlerTable
	filters      DispatcherFilterChain
	msgFilterMap map[int32]struct{}
}

// NewDispatcher creates a dispatcher over table. Packets whose id is in
// msgFilter are dropped before lookup. Extra filters run after the built-in
// ones, closest to the handler.
func NewDispatcher(table HandlerTable, msgFilter []int32, filters ...DispatcherFilter) *Dispatcher {
	dp := &Dispatcher{
		table:        table,
		msgFilterMap: make(map[int32]struct{}, len(msgFilter)),
	}
	for _, id := range msgFilter {
		dp.msgFilterMap[id] = struct{}{}
	}

	dp.filters = append(dp.filters, dp.msgFilter)
	dp.filters = append(dp.filters, observeFilter)
	dp.filters = append(dp.filters, filters...)
	return dp
}

// Dispatch reads the packet id from body and runs the filter chain and the
// handler. body is owned by the dispatcher from here on. Unknown ids yield
// ErrUnregisteredHandler; the packet is dropped and later packets are
// unaffected.
func (dp *Dispatcher) Dispatch(c *Client, transport Transport, body []byte) error {
	p := newPacketOwning(body)
	defer p.Release()

	id, err := p.ReadInt()
	if err != nil {
		return fmt.Errorf("read packet id: %w", err)
	}

	d := &Delivery{
		Client:    c,
		Transport: transport,
		PacketID:  id,
		Packet:    p,
	}
	return dp.filters.Handle(d, dp.handle)
}

func (dp *Dispatcher) handle(d *Delivery) error {
	h, ok := dp.table.Lookup(d.PacketID)
	if !ok {
		return fmt.Errorf("%w: packet id %d", ErrUnregisteredHandler, d.PacketID)
	}
	return h(d.Client, d.Packet)
}
