package collector

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robertof/go-lywsd03mmc-bridge/ble"
	"github.com/robertof/go-lywsd03mmc-bridge/device"
	"github.com/rs/zerolog/log"
)

// collectViaScan runs a single scan pass of duration d shared by all devices, and ingests every
// frame received from them. Returns, for each device in order, nil if at least one frame was
// ingested successfully or the reason why no reading was acquired.
func collectViaScan(
	ctx context.Context,
	t Transport,
	devices []device.PassiveBackend,
	d time.Duration,
) []error {
	type pending struct {
		index  int
		frames []device.RawFrame
	}

	deviceMap := make(map[string]int, len(devices))

	for i, dev := range devices {
		deviceMap[strings.ToLower(dev.Addr().String())] = i
	}

	var (
		mu       sync.Mutex
		received []pending
		finished bool
	)

	scanErr := t.ScanFor(ctx, d, func(a ble.Advertisement) {
		i, ok := deviceMap[strings.ToLower(a.Addr().String())]

		if !ok {
			log.Trace().
				Str("Address", a.Addr().String()).
				Str("LocalName", a.LocalName()).
				Msg("collectViaScan: ignoring advertisement from unknown device")

			return
		}

		frames := devices[i].Frames(a)

		if len(frames) == 0 {
			return
		}

		mu.Lock()
		defer mu.Unlock()

		if finished {
			return
		}

		received = append(received, pending{index: i, frames: frames})
	})

	mu.Lock()
	finished = true
	mu.Unlock()

	errs := make([]error, len(devices))
	updated := make([]bool, len(devices))

	// frames are ingested here, in arrival order, so that only the polling goroutine mutates
	// sessions.
	for _, p := range received {
		dev := devices[p.index]

		for _, frame := range p.frames {
			if err := dev.Ingest(frame); err != nil {
				log.Debug().
					Stringer("Device", dev).
					Stringer("Frame", frame).
					Err(err).
					Msg("collectViaScan: discarding frame")

				errs[p.index] = err
				continue
			}

			updated[p.index] = true
		}
	}

	var failure error

	if scanErr != nil {
		if ctx.Err() != nil {
			failure = ctx.Err()
		} else {
			failure = fmt.Errorf("%w: %w", ErrTransport, scanErr)
		}
	}

	for i := range devices {
		switch {
		case updated[i]:
			errs[i] = nil
		case failure != nil:
			errs[i] = failure
		case errs[i] == nil:
			errs[i] = fmt.Errorf("%w: no advertisement within %v", ErrNoData, d)
		}
	}

	return errs
}
