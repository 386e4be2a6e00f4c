package device

import (
	"net"
)

type Mode uint8

const (
	ModeActive Mode = iota
	ModePassive
)

func (m Mode) String() string {
	if m == ModePassive {
		return "passive"
	}

	return "active"
}

type Device interface {
	Name() string
	Addr() net.HardwareAddr
	Mode() Mode
	String() string
}
