package ble

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-ble/ble"
)

func WrapContextWithSigHandler(ctx context.Context, cancel func()) context.Context {
	return ble.WithSigHandler(ctx, cancel)
}

// Perform an active or passive scan and return every advertisement found.
func (h *Handle) ScanAll(ctx context.Context, onDevice func(Advertisement)) error {
	err := h.dev.Scan(ctx, true, onDevice)

	if err != nil {
		return fmt.Errorf("failed to initiate scan: %w", err)
	}

	return nil
}

// Perform a single scan pass lasting d. Reaching the end of the pass is not an error, while
// cancellation of parentCtx is.
//
// The BLE lib could invoke onDevice even after this returns.
func (h *Handle) ScanFor(
	parentCtx context.Context,
	d time.Duration,
	onDevice func(Advertisement),
) error {
	ctx, cancel := context.WithTimeout(parentCtx, d)
	defer cancel()

	err := h.ScanAll(ctx, onDevice)

	if errors.Is(err, context.DeadlineExceeded) && parentCtx.Err() == nil {
		return nil
	}

	return err
}
