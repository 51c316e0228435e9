package helpers

import (
	"encoding/hex"
	"strings"
)

// MustHex builds bytes from hex notation, spaces allowed for readability.
// Panics on bad input, tests only.
func MustHex(s string) []byte {
	b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		panic(err)
	}
	return b
}
