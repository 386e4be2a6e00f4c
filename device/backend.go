package device

import (
	"context"
	"time"

	"github.com/robertof/go-lywsd03mmc-bridge/ble"
)

// Session is a device caching the latest reading decoded from its raw frames.
// A failed Ingest never touches the cached reading.
type Session interface {
	Device
	Ingest(frame RawFrame) error
	Latest() (r Reading, updatedAt time.Time, ok bool)
}

// PassiveBackend represents a device that is read passively -- that is, entirely using
// advertisements without establishing a connection to the device.
type PassiveBackend interface {
	Session
	// Frames extracts the sensor frames carried by an advertisement, if any.
	Frames(a ble.Advertisement) []RawFrame
}

// ActiveBackend represents a device that is read using an established device connection.
type ActiveBackend interface {
	Session
	CommandTimeout() time.Duration
	// Read configures the connection and blocks until a frame arrives or ctx expires.
	Read(ctx context.Context, c ble.Connection) (RawFrame, error)
}
