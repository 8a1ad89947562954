package keys

import (
	"io/ioutil"
	"os"
	"path"
	"reflect"
	"strings"
	"testing"
)

func TestGenerateKeyPairDeterministic(t *testing.T) {
	k1, err := GenerateKeyPair("alice", "s3cret")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	k2, err := GenerateKeyPair("alice", "s3cret")
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if PrivateKeyHex(k1) != PrivateKeyHex(k2) {
		t.Fatalf("same inputs should derive the same private key")
	}
	if PublicKeyHex(&k1.PublicKey) != PublicKeyHex(&k2.PublicKey) {
		t.Fatalf("same inputs should derive the same public key")
	}

	k3, err := GenerateKeyPair("alice", "other")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if PrivateKeyHex(k1) == PrivateKeyHex(k3) {
		t.Fatalf("different secrets should derive different keys")
	}

	pub := PublicKeyHex(&k1.PublicKey)
	if len(pub) != 130 || !strings.HasPrefix(pub, "04") {
		t.Fatalf("public key should be 65 uncompressed bytes in hex, got %s", pub)
	}
}

func TestSignVerify(t *testing.T) {
	key, err := GenerateKeyPair("teacher", "password")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	pub := PublicKeyHex(&key.PublicKey)

	msg := []byte("J'aime mieux forger mon ame que la meubler")

	sig, err := Sign(key, msg)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if !Verify(msg, sig, pub) {
		t.Fatalf("signature should verify")
	}

	if Verify([]byte("another message"), sig, pub) {
		t.Fatalf("signature should not verify another message")
	}

	other, _ := GenerateECDSAKey()
	if Verify(msg, sig, PublicKeyHex(&other.PublicKey)) {
		t.Fatalf("signature should not verify with another key")
	}

	malformed := []struct {
		sig string
		pub string
	}{
		{"", pub},
		{"zz", pub},
		{"3006020101020101", pub},
		{sig, ""},
		{sig, "04deadbeef"},
	}
	for i, m := range malformed {
		if Verify(msg, m.sig, m.pub) {
			t.Fatalf("malformed input %d should not verify", i)
		}
	}
}

func TestPublicKeyHexRoundTrip(t *testing.T) {
	key, _ := GenerateECDSAKey()

	pub := ParsePublicKeyHex(PublicKeyHex(&key.PublicKey))
	if pub == nil {
		t.Fatalf("public key should parse")
	}
	if pub.X.Cmp(key.PublicKey.X) != 0 || pub.Y.Cmp(key.PublicKey.Y) != 0 {
		t.Fatalf("public keys do not match")
	}

	priv, err := ParsePrivateKeyHex(PrivateKeyHex(key))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if priv.D.Cmp(key.D) != 0 {
		t.Fatalf("private keys do not match")
	}
}

func TestSimpleKeyfile(t *testing.T) {
	os.Mkdir("test_data", os.ModeDir|0700)
	dir, err := ioutil.TempDir("test_data", "ledger")
	if err != nil {
		t.Fatalf("err: %v ", err)
	}
	defer os.RemoveAll(dir)

	simpleKeyfile := NewSimpleKeyfile(path.Join(dir, "priv_key"))

	// Try a read, should get nothing
	key, err := simpleKeyfile.ReadKey()
	if err == nil {
		t.Fatalf("ReadKey should generate an error")
	}
	if key != nil {
		t.Fatalf("key is not nil")
	}

	key, _ = GenerateECDSAKey()
	if err := simpleKeyfile.WriteKey(key); err != nil {
		t.Fatalf("err: %v", err)
	}

	nKey, err := simpleKeyfile.ReadKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if !reflect.DeepEqual(DumpPrivateKey(nKey), DumpPrivateKey(key)) {
		t.Fatalf("Keys do not match")
	}
}

func TestFilePermissions(t *testing.T) {
	os.Mkdir("test_data", os.ModeDir|0700)
	dir, err := ioutil.TempDir("test_data", "ledger")
	if err != nil {
		t.Fatalf("err: %v ", err)
	}
	defer os.RemoveAll(dir)

	key, _ := GenerateECDSAKey()
	rawKey := PrivateKeyHex(key)

	badKeyPath := path.Join(dir, "priv_key_bad")
	for _, fm := range []os.FileMode{0777, 0766, 0744, 0677, 0666, 0644} {
		os.Remove(badKeyPath)
		ioutil.WriteFile(badKeyPath, []byte(rawKey), fm)
		os.Chmod(badKeyPath, fm)
		if _, err := NewSimpleKeyfile(badKeyPath).ReadKey(); err == nil {
			t.Fatalf("%o || keyfile should return permissions error", fm)
		}
	}

	goodKeyPath := path.Join(dir, "priv_key_good")
	for _, fm := range []os.FileMode{0700, 0600, 0500, 0400} {
		os.Remove(goodKeyPath)
		ioutil.WriteFile(goodKeyPath, []byte(rawKey), fm)
		os.Chmod(goodKeyPath, fm)
		if _, err := NewSimpleKeyfile(goodKeyPath).ReadKey(); err != nil {
			t.Fatalf("%o || keyfile should not return error. Got %v", fm, err)
		}
	}
}
