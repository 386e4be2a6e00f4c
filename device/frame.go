package device

import (
	"fmt"
	"net"
)

type FrameKind uint8

const (
	// Advertisement service data, starting with the 16-bit service UUID.
	FrameKindServiceData FrameKind = iota
	// Value pushed by a connected peripheral after subscribing.
	FrameKindNotification
)

func (k FrameKind) String() string {
	switch k {
	case FrameKindServiceData:
		return "ServiceData"
	case FrameKindNotification:
		return "Notification"
	default:
		return fmt.Sprintf("FrameKind(%d)", uint8(k))
	}
}

// RawFrame is a payload as received from the transport, before decoding.
type RawFrame struct {
	Source  net.HardwareAddr
	Payload []byte
	Kind    FrameKind
}

func (f RawFrame) String() string {
	return fmt.Sprintf("frame[kind=%v, source=%v, payload=%x]", f.Kind, f.Source, f.Payload)
}
