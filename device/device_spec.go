package device

import (
	"fmt"
	"strings"
)

// DeviceSpec is the parsed form of a `key=value,key=value` device description.
type DeviceSpec map[string]string

const (
	DeviceSpecFieldName    = "name"
	DeviceSpecFieldAddress = "addr"
)

func ParseDeviceSpec(s string) (DeviceSpec, error) {
	spec := DeviceSpec{}

	for _, entry := range strings.Split(s, ",") {
		if strings.TrimSpace(entry) == "" {
			continue
		}

		key, value, ok := strings.Cut(entry, "=")
		key = strings.ToLower(strings.TrimSpace(key))

		if !ok || key == "" {
			return nil, fmt.Errorf("invalid device spec entry %q (want key=value)", entry)
		}

		if _, dup := spec[key]; dup {
			return nil, fmt.Errorf("duplicate device spec key %q", key)
		}

		spec[key] = strings.TrimSpace(value)
	}

	if spec.Addr() == "" {
		return nil, fmt.Errorf("device spec %q is missing %q", s, DeviceSpecFieldAddress)
	}

	return spec, nil
}

func (ds DeviceSpec) Name() string {
	return ds[DeviceSpecFieldName]
}

func (ds DeviceSpec) Addr() string {
	return ds[DeviceSpecFieldAddress]
}
