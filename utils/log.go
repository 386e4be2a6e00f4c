package utils

import (
	"fmt"

	"github.com/rs/zerolog"
)

// ToZeroLogArray logs a list of devices or addresses as an array of their string forms.
func ToZeroLogArray[T fmt.Stringer](arr []T) *zerolog.Array {
	ret := zerolog.Arr()

	for _, elem := range arr {
		ret = ret.Str(elem.String())
	}

	return ret
}
