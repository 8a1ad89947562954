package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// SHA256 returns the SHA256 hash of the data.
func SHA256(data []byte) []byte {
	hasher := sha256.New()
	hasher.Write(data)
	hash := hasher.Sum(nil)
	return hash
}

// SHA256Hex returns the lowercase hexadecimal SHA256 digest of the data. This
// is the form used for transaction and block hashes.
func SHA256Hex(data []byte) string {
	return hex.EncodeToString(SHA256(data))
}
