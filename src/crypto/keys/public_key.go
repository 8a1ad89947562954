package keys

import (
	"crypto/ecdsa"

	"github.com/btcsuite/btcd/btcec"
	"github.com/zacharyzhang1208/COMP5567-Project/src/common"
)

// ToPublicKey parses the uncompressed (or compressed) form of a point on the
// curve, as returned by FromPublicKey. It returns nil if the bytes do not
// describe a valid point.
func ToPublicKey(pub []byte) *ecdsa.PublicKey {
	if len(pub) == 0 {
		return nil
	}
	key, err := btcec.ParsePubKey(pub, btcec.S256())
	if err != nil {
		return nil
	}
	return key.ToECDSA()
}

// FromPublicKey outputs the point in uncompressed form.
func FromPublicKey(pub *ecdsa.PublicKey) []byte {
	if pub == nil || pub.X == nil || pub.Y == nil {
		return nil
	}
	return (*btcec.PublicKey)(pub).SerializeUncompressed()
}

// PublicKeyHex returns the lowercase hexadecimal reprentation of the
// uncompressed form of the public key.
func PublicKeyHex(pub *ecdsa.PublicKey) string {
	return common.EncodeToString(FromPublicKey(pub))
}

// ParsePublicKeyHex is the inverse of PublicKeyHex. It returns nil if the
// string is not a valid encoded point.
func ParsePublicKeyHex(s string) *ecdsa.PublicKey {
	b, err := common.DecodeFromString(s)
	if err != nil {
		return nil
	}
	return ToPublicKey(b)
}
