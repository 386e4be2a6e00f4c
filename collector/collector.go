package collector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/robertof/go-lywsd03mmc-bridge/ble"
	"github.com/robertof/go-lywsd03mmc-bridge/collector/model"
	"github.com/robertof/go-lywsd03mmc-bridge/device"
	"github.com/robertof/go-lywsd03mmc-bridge/utils"
	"github.com/rs/zerolog/log"
)

const DefaultScanTimeout = 20 * time.Second

var (
	ErrTimeout   = errors.New("acquisition timed out")
	ErrTransport = errors.New("transport error")
	// No frame was received from the device during a scan pass.
	ErrNoData = errors.New("no data received")
)

// Transport is the BLE stack used to reach the devices; implemented by *ble.Handle.
type Transport interface {
	Connect(ctx context.Context, addr net.HardwareAddr) (ble.Connection, error)
	ScanFor(ctx context.Context, d time.Duration, onDevice func(ble.Advertisement)) error
}

// Emitter receives every reading acquired during a poll cycle.
type Emitter interface {
	Emit(ctx context.Context, dev device.Device, r device.Reading) error
}

type Options struct {
	Mode device.Mode
	// Duration of the shared scan pass in passive mode.
	ScanTimeout time.Duration
}

// Collector polls a fixed group of devices, one cycle at a time. Not safe for concurrent use.
type Collector struct {
	transport Transport
	emitter   Emitter
	opts      Options

	devices []device.Session
	passive []device.PassiveBackend
	active  []device.ActiveBackend
}

func New(t Transport, e Emitter, devices []device.Session, opts Options) (*Collector, error) {
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = DefaultScanTimeout
	}

	c := &Collector{
		transport: t,
		emitter:   e,
		opts:      opts,
		devices:   devices,
	}

	for _, dev := range devices {
		if dev.Mode() != opts.Mode {
			return nil, fmt.Errorf("device %v is configured for %v mode, collector for %v", dev, dev.Mode(), opts.Mode)
		}

		switch opts.Mode {
		case device.ModePassive:
			backend, ok := dev.(device.PassiveBackend)
			if !ok {
				return nil, fmt.Errorf("device %v does not support passive collection", dev)
			}

			c.passive = append(c.passive, backend)
		default:
			backend, ok := dev.(device.ActiveBackend)
			if !ok {
				return nil, fmt.Errorf("device %v does not support active collection", dev)
			}

			c.active = append(c.active, backend)
		}
	}

	return c, nil
}

func (c *Collector) Devices() []device.Session {
	return c.devices
}

// Poll runs a single collection cycle over every device, in configuration order, and emits
// the readings acquired during it. Failures are confined to the device they occurred on and
// reported in the returned results.
func (c *Collector) Poll(ctx context.Context) []model.DeviceResult {
	log.Debug().
		Array("Devices", utils.ToZeroLogArray(c.devices)).
		Stringer("Mode", c.opts.Mode).
		Msg("Collecting readings from devices")

	if c.opts.Mode == device.ModePassive {
		return c.pollPassive(ctx)
	}

	return c.pollActive(ctx)
}

func (c *Collector) pollActive(ctx context.Context) []model.DeviceResult {
	out := make([]model.DeviceResult, 0, len(c.active))

	for _, dev := range c.active {
		var err error

		if err = ctx.Err(); err == nil {
			log.Trace().Stringer("Device", dev).Msg("Collecting data from device via direct connection")
			err = collectViaConnection(ctx, c.transport, dev)
		}

		out = append(out, c.finish(ctx, dev, err))
	}

	return out
}

func (c *Collector) pollPassive(ctx context.Context) []model.DeviceResult {
	log.Trace().
		Dur("ScanTimeout", c.opts.ScanTimeout).
		Msg("Collecting data from devices via scan")

	errs := collectViaScan(ctx, c.transport, c.passive, c.opts.ScanTimeout)
	out := make([]model.DeviceResult, 0, len(c.passive))

	for i, dev := range c.passive {
		out = append(out, c.finish(ctx, dev, errs[i]))
	}

	return out
}

// finish builds the result of dev for this cycle and emits its reading if it is fresh.
func (c *Collector) finish(ctx context.Context, dev device.Session, err error) model.DeviceResult {
	reading, updatedAt, _ := dev.Latest()

	res := model.DeviceResult{
		Device: dev,
		Result: model.Result{
			Reading:   reading,
			UpdatedAt: updatedAt,
			Fresh:     err == nil,
			Error:     err,
		},
	}

	acquisitionsCounter.WithLabelValues(resultLabel(err)).Inc()

	if err != nil {
		log.Warn().
			Stringer("Device", dev).
			Err(err).
			Msg("Collection failed for device")

		return res
	}

	log.Debug().
		Stringer("Device", dev).
		Stringer("Reading", reading).
		Msg("Successfully collected data from device")

	if c.emitter == nil {
		return res
	}

	if err := c.emitter.Emit(ctx, dev, reading); err != nil {
		log.Error().
			Stringer("Device", dev).
			Err(err).
			Msg("Failed to emit reading for device")

		res.Error = fmt.Errorf("failed to emit reading: %w", err)
		return res
	}

	emittedCounter.Inc()

	return res
}

// classify maps an acquisition failure onto the error taxonomy exposed to callers.
func classify(parentCtx context.Context, timeout time.Duration, err error) error {
	if err == nil {
		return nil
	}

	if parentCtx.Err() != nil {
		return parentCtx.Err()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: no notification within %v", ErrTimeout, timeout)
	}

	return fmt.Errorf("%w: %w", ErrTransport, err)
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrTransport):
		return "transport_error"
	case errors.Is(err, ErrNoData):
		return "no_data"
	case utils.ErrorIsAnyOf(err, context.Canceled, context.DeadlineExceeded):
		return "canceled"
	default:
		return "decode_error"
	}
}

var _ Transport = (*ble.Handle)(nil)
