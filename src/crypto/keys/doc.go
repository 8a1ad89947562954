// Package keys implements the public key cryptography that binds classroom
// identities to ledger entries.
//
// Keys live on the secp256k1 curve. Signatures are ECDSA over the SHA256
// digest of the message, serialized in DER form and hex encoded. Public keys
// are exchanged as the hex encoding of the uncompressed point (65 bytes).
//
// GenerateKeyPair derives a key deterministically from an identifier and a
// secret, so that a user can recover their key from a password. This is
// convenient for a classroom but it is not a trust boundary: whoever knows the
// password owns the key, and there is no forward secrecy.
package keys
