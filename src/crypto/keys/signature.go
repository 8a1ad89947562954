package keys

import (
	"crypto/ecdsa"

	"github.com/btcsuite/btcd/btcec"
	"github.com/zacharyzhang1208/COMP5567-Project/src/common"
	bcrypto "github.com/zacharyzhang1208/COMP5567-Project/src/crypto"
)

// Sign signs the SHA256 digest of msg with the private key. Nonces are
// generated per RFC6979, so signing is deterministic. The result is the hex
// encoding of the DER signature.
func Sign(priv *ecdsa.PrivateKey, msg []byte) (string, error) {
	sig, err := (*btcec.PrivateKey)(priv).Sign(bcrypto.SHA256(msg))
	if err != nil {
		return "", err
	}
	return common.EncodeToString(sig.Serialize()), nil
}

// Verify verifies that sigHex, as produced by Sign, is a valid signature of
// msg by the owner of the private key associated with pubHex. Malformed
// signatures or keys are reported as invalid.
func Verify(msg []byte, sigHex string, pubHex string) bool {
	pub := ParsePublicKeyHex(pubHex)
	if pub == nil {
		return false
	}
	return VerifyKey(pub, msg, sigHex)
}

// VerifyKey is like Verify but takes a parsed public key.
func VerifyKey(pub *ecdsa.PublicKey, msg []byte, sigHex string) bool {
	der, err := common.DecodeFromString(sigHex)
	if err != nil || len(der) == 0 {
		return false
	}
	sig, err := btcec.ParseDERSignature(der, btcec.S256())
	if err != nil {
		return false
	}
	return sig.Verify(bcrypto.SHA256(msg), (*btcec.PublicKey)(pub))
}
