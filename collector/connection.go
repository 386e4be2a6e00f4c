package collector

import (
	"context"
	"sync"

	"github.com/robertof/go-lywsd03mmc-bridge/ble"
	"github.com/robertof/go-lywsd03mmc-bridge/device"
	"github.com/rs/zerolog/log"
)

// connectionGuard owns a connection that may still be in the process of being established
// when the acquisition is abandoned.
type connectionGuard struct {
	mu       sync.Mutex
	conn     ble.Connection
	released bool
}

// adopt hands c over to the guard. Returns false, after closing c, if the guard was already
// released.
func (g *connectionGuard) adopt(c ble.Connection) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.released {
		closeConnection(c)
		return false
	}

	g.conn = c
	return true
}

func (g *connectionGuard) release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.released = true

	if g.conn != nil {
		closeConnection(g.conn)
		g.conn = nil
	}
}

func closeConnection(c ble.Connection) {
	if err := c.Close(); err != nil {
		log.Debug().
			Stringer("Address", c.Addr()).
			Err(err).
			Msg("Error while closing connection")
	}
}

type readOutcome struct {
	frame device.RawFrame
	err   error
}

// collectViaConnection performs a single command/response exchange with dev, bounded by its
// command timeout, and ingests the received frame. The connection is closed, and the exchange
// has fully stopped, before returning on every path. A transport that ignores ctx while dialing
// delays the return until the dial completes; a stalled read is unblocked by closing the
// connection.
func collectViaConnection(parentCtx context.Context, t Transport, dev device.ActiveBackend) error {
	timeout := dev.CommandTimeout()
	ctx, cancel := context.WithTimeout(parentCtx, timeout)

	guard := &connectionGuard{}
	stopped := make(chan struct{})

	defer func() {
		cancel()
		guard.release()
		<-stopped
	}()

	done := make(chan readOutcome, 1)

	go func() {
		defer close(stopped)

		conn, err := t.Connect(ctx, dev.Addr())

		if err != nil {
			done <- readOutcome{err: err}
			return
		}

		if !guard.adopt(conn) {
			return
		}

		log.Trace().Stringer("Device", dev).Msg("collectViaConnection: connected, requesting reading")

		frame, err := dev.Read(ctx, conn)
		done <- readOutcome{frame: frame, err: err}
	}()

	select {
	case <-ctx.Done():
		return classify(parentCtx, timeout, ctx.Err())
	case res := <-done:
		if res.err != nil {
			return classify(parentCtx, timeout, res.err)
		}

		log.Trace().
			Stringer("Device", dev).
			Stringer("Frame", res.frame).
			Msg("collectViaConnection: received frame")

		return dev.Ingest(res.frame)
	}
}
