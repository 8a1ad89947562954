package ledger

import (
	"bytes"

	"github.com/ugorji/go/codec"
	"github.com/zacharyzhang1208/COMP5567-Project/src/crypto"
)

// canonicalHash returns the hex SHA256 of the canonical JSON encoding of v.
// Map keys are sorted so that the digest does not depend on insertion order.
func canonicalHash(v interface{}) (string, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(v); err != nil {
		return "", err
	}

	return crypto.SHA256Hex(b.Bytes()), nil
}

func nowMillis() int64 {
	return timeNow().UnixNano() / 1e6
}
