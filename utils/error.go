package utils

import "errors"

// ErrorIsAnyOf reports whether err matches any of targets according to errors.Is.
func ErrorIsAnyOf(err error, targets ...error) bool {
	if err == nil {
		return false
	}

	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}
