package lywsd03mmc

import (
	"bytes"
	"fmt"
	"net"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/robertof/go-lywsd03mmc-bridge/device"
	"github.com/rs/zerolog/log"
)

const DefaultCommandTimeout = 30 * time.Second

// Device holds the state of a single configured sensor. It is owned by the collector that
// created it and is not safe for concurrent use.
type Device struct {
	name           string
	addr           net.HardwareAddr
	mode           device.Mode
	commandTimeout time.Duration

	last      device.Reading
	updatedAt time.Time
	hasLast   bool

	// clock is replaced in tests.
	now func() time.Time
}

func NewDevice(name string, addr net.HardwareAddr, mode device.Mode, commandTimeout time.Duration) (*Device, error) {
	if len(addr) != 6 {
		return nil, fmt.Errorf("invalid addr %q: want a 6 byte MAC address", addr.String())
	}

	if commandTimeout <= 0 {
		commandTimeout = DefaultCommandTimeout
	}

	if name == "" {
		name = defaultName(addr)
	}

	return &Device{
		name:           name,
		addr:           addr,
		mode:           mode,
		commandTimeout: commandTimeout,
		now:            time.Now,
	}, nil
}

func (d *Device) Name() string {
	return d.name
}

func (d *Device) Addr() net.HardwareAddr {
	return d.addr
}

func (d *Device) Mode() device.Mode {
	return d.mode
}

func (d *Device) CommandTimeout() time.Duration {
	return d.commandTimeout
}

func (d *Device) String() string {
	return fmt.Sprintf("lywsd03mmc[name=%q, addr=%v]", d.name, d.addr.String())
}

// Ingest decodes frame and, on success, makes it the latest reading of the device. On failure
// the previous reading is kept and the error returned.
func (d *Device) Ingest(frame device.RawFrame) error {
	if len(frame.Source) > 0 && !bytes.Equal(frame.Source, d.addr) {
		return pkgerrors.Wrapf(ErrNotASensorFrame, "frame from %v does not belong to %v", frame.Source, d.addr)
	}

	reading, err := DecodeFrame(frame, d.addr)

	if err != nil {
		log.Trace().
			Stringer("Device", d).
			Stringer("Frame", frame).
			Err(err).
			Msg("lywsd03mmc: failed to decode frame")

		return err
	}

	d.last = reading
	d.updatedAt = d.now()
	d.hasLast = true

	log.Trace().
		Stringer("Device", d).
		Stringer("Reading", reading).
		Msg("lywsd03mmc: updated reading")

	return nil
}

func (d *Device) Latest() (device.Reading, time.Time, bool) {
	return d.last, d.updatedAt, d.hasLast
}

var (
	_ device.ActiveBackend  = (*Device)(nil)
	_ device.PassiveBackend = (*Device)(nil)
)
