package ble

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/go-ble/ble"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	successfulConnectionsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lywsd03mmc_bridge_ble_successful_connections_total",
	})
	failedConnectionsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lywsd03mmc_bridge_ble_failed_connections_total",
	})
	disconnectsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lywsd03mmc_bridge_ble_disconnections_total",
	})
)

var ErrDisconnected = errors.New("ble: device disconnected")

// notifications buffered per connection before new ones are dropped.
const notificationQueueSize = 8

// Connection is an established GATT connection to a single peripheral. Close must be called
// on every exit path; it is safe to call more than once.
type Connection interface {
	Addr() net.HardwareAddr
	// Subscribe enables notifications for the characteristic at valueHandle by writing
	// `01 00` to its client configuration descriptor at cccdHandle, and queues every value
	// received from then on.
	Subscribe(valueHandle, cccdHandle uint16) error
	WriteCharacteristic(handle uint16, value []byte, withResponse bool) error
	// WaitForNotification blocks until a queued notification is available, ctx expires or
	// the device disconnects.
	WaitForNotification(ctx context.Context) ([]byte, error)
	Close() error
}

type gattConnection struct {
	client        ble.Client
	addr          net.HardwareAddr
	notifications chan []byte
	closeOnce     sync.Once
	closeErr      error
}

func (h *Handle) Connect(ctx context.Context, addr net.HardwareAddr) (Connection, error) {
	client, err := h.dev.Dial(ctx, addr)

	if err != nil {
		failedConnectionsCounter.Inc()
		return nil, fmt.Errorf("failed to dial %v: %w", addr, err)
	}

	successfulConnectionsCounter.Inc()
	log.Debug().Stringer("Addr", addr).Msg("ble: successfully opened new connection to device")

	go func() {
		<-client.Disconnected()

		disconnectsCounter.Inc()
		log.Debug().Stringer("Addr", addr).Msg("ble: connection with device closed")
	}()

	return &gattConnection{
		client:        client,
		addr:          addr,
		notifications: make(chan []byte, notificationQueueSize),
	}, nil
}

func (c *gattConnection) Addr() net.HardwareAddr {
	return c.addr
}

func (c *gattConnection) Subscribe(valueHandle, cccdHandle uint16) error {
	char := &ble.Characteristic{
		ValueHandle: valueHandle,
		CCCD:        &ble.Descriptor{Handle: cccdHandle},
	}

	err := c.client.Subscribe(char, false, func(v []byte) {
		// the handler's buffer is reused by the stack.
		v = append([]byte(nil), v...)

		log.Trace().
			Stringer("Addr", c.addr).
			Uint16("Handle", valueHandle).
			Hex("Value", v).
			Msg("ble: received notification")

		select {
		case c.notifications <- v:
		default:
			log.Warn().Stringer("Addr", c.addr).Msg("ble: notification queue full, dropping value")
		}
	})

	if err != nil {
		return fmt.Errorf("failed to subscribe to handle %#04x: %w", valueHandle, err)
	}

	return nil
}

func (c *gattConnection) WriteCharacteristic(handle uint16, value []byte, withResponse bool) error {
	char := &ble.Characteristic{ValueHandle: handle}

	if err := c.client.WriteCharacteristic(char, value, !withResponse); err != nil {
		return fmt.Errorf("failed to write handle %#04x: %w", handle, err)
	}

	return nil
}

func (c *gattConnection) WaitForNotification(ctx context.Context) ([]byte, error) {
	select {
	case v := <-c.notifications:
		return v, nil
	case <-c.client.Disconnected():
		return nil, ErrDisconnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *gattConnection) Close() error {
	c.closeOnce.Do(func() {
		log.Trace().Stringer("Addr", c.addr).Msg("ble: closing connection")
		c.closeErr = c.client.CancelConnection()
	})

	return c.closeErr
}
