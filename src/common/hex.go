package common

import (
	"encoding/hex"
	"strings"
)

// EncodeToString returns the lowercase hexadecimal representation of bytes,
// without prefix.
func EncodeToString(hexBytes []byte) string {
	return hex.EncodeToString(hexBytes)
}

// DecodeFromString converts a hex string to a byte slice. An optional 0x or 0X
// prefix is tolerated.
func DecodeFromString(hexString string) ([]byte, error) {
	s := strings.TrimPrefix(strings.TrimPrefix(hexString, "0x"), "0X")
	return hex.DecodeString(s)
}
