package crypto

import (
	"bytes"
	"errors"
	"testing"
)

var testKDF = KDFParams{Time: 1, MemoryKiB: 64, Threads: 1}

func TestDeriveAccountKeyDeterministic(t *testing.T) {
	seed := []byte("deterministic seed for derivation")

	master1, err := DeriveMasterKey(seed)
	if err != nil {
		t.Fatalf("failed to derive master key: %v", err)
	}
	master2, err := DeriveMasterKey(seed)
	if err != nil {
		t.Fatalf("failed to derive master key: %v", err)
	}

	k1, _, err := DeriveAccountKey(master1, "m/44'/784'/0'/0'/0'")
	if err != nil {
		t.Fatalf("failed to derive account key: %v", err)
	}
	k2, _, err := DeriveAccountKey(master2, "m/44'/784'/0'/0'/0'")
	if err != nil {
		t.Fatalf("failed to derive account key: %v", err)
	}
	if k1.D.Cmp(k2.D) != 0 {
		t.Fatal("same seed and path produced different keys")
	}

	k3, _, err := DeriveAccountKey(master1, "m/44'/784'/0'/0'/1'")
	if err != nil {
		t.Fatalf("failed to derive account key: %v", err)
	}
	if k1.D.Cmp(k3.D) == 0 {
		t.Fatal("different paths produced the same key")
	}
}

func TestPrivateKeyRoundTrip(t *testing.T) {
	priv, pub, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("failed to generate key pair: %v", err)
	}

	raw, err := PrivateKeyToBytes(priv)
	if err != nil {
		t.Fatalf("failed to encode private key: %v", err)
	}
	if len(raw) != ScalarLen {
		t.Fatalf("expected %d bytes, got %d", ScalarLen, len(raw))
	}

	restored, err := BytesToPrivateKey(raw)
	if err != nil {
		t.Fatalf("failed to decode private key: %v", err)
	}
	if restored.PublicKey.X.Cmp(pub.X) != 0 || restored.PublicKey.Y.Cmp(pub.Y) != 0 {
		t.Fatal("re-derived public key does not match")
	}

	if _, err := BytesToPrivateKey(make([]byte, ScalarLen)); err == nil {
		t.Fatal("zero scalar should be rejected")
	}
}

func TestSignAndVerify(t *testing.T) {
	priv, pub, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("failed to generate key pair: %v", err)
	}

	data := []byte("test transaction data for signing")
	sig, err := SignData(priv, data)
	if err != nil {
		t.Fatalf("failed to sign data: %v", err)
	}
	if !VerifySignature(pub, data, sig) {
		t.Error("signature verification failed")
	}
	if VerifySignature(pub, []byte("wrong data"), sig) {
		t.Error("should fail with wrong data")
	}

	_, other, _ := GenerateKeyPair()
	if VerifySignature(other, data, sig) {
		t.Error("should fail with wrong public key")
	}
}

func TestAddressFromCompressedKey(t *testing.T) {
	_, pub, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("failed to generate key pair: %v", err)
	}
	a1, err := PublicKeyToAddress(pub)
	if err != nil {
		t.Fatalf("failed to derive address: %v", err)
	}
	compressed, _ := PublicKeyToBytes(pub)
	a2, err := CompressedToAddress(compressed)
	if err != nil {
		t.Fatalf("failed to derive address: %v", err)
	}
	if a1 != a2 {
		t.Fatalf("address mismatch: %s != %s", a1.Hex(), a2.Hex())
	}
}

func TestCheckPassword(t *testing.T) {
	h, err := HashPassword([]byte("correct horse"), testKDF)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	ok, err := CheckPassword([]byte("correct horse"), h)
	if err != nil || !ok {
		t.Fatalf("expected password to match, ok=%v err=%v", ok, err)
	}
	ok, _ = CheckPassword([]byte("battery staple"), h)
	if ok {
		t.Fatal("wrong password accepted")
	}

	legacy, err := HashPasswordLegacy([]byte("correct horse"), ScryptParams{N: 1 << 4, R: 8, P: 1})
	if err != nil {
		t.Fatalf("failed to hash legacy password: %v", err)
	}
	if legacy.Algo != AlgoScrypt {
		t.Fatalf("unexpected algo %q", legacy.Algo)
	}
	ok, err = CheckPassword([]byte("correct horse"), legacy)
	if err != nil || !ok {
		t.Fatalf("expected legacy password to match, ok=%v err=%v", ok, err)
	}
}

func TestSealOpen(t *testing.T) {
	vek := DeriveVaultKey([]byte("pw"), []byte("0123456789abcdef"), testKDF)
	defer vek.Zero()

	key, err := SubKey(vek.Bytes(), "src:one")
	if err != nil {
		t.Fatalf("failed to derive subkey: %v", err)
	}

	sealed, err := Seal(key, []byte("payload"), []byte("src:one"))
	if err != nil {
		t.Fatalf("failed to seal: %v", err)
	}
	plain, err := Open(key, sealed, []byte("src:one"))
	if err != nil {
		t.Fatalf("failed to open: %v", err)
	}
	if !bytes.Equal(plain, []byte("payload")) {
		t.Fatalf("unexpected plaintext %q", plain)
	}

	if _, err := Open(key, sealed, []byte("src:two")); err == nil {
		t.Fatal("open with wrong associated data should fail")
	}
}

func TestSecretZero(t *testing.T) {
	b := []byte{1, 2, 3}
	s := NewSecret(b)
	if err := s.Use(func(k []byte) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.Zero()
	if !s.Zeroed() {
		t.Fatal("secret should report zeroed")
	}
	if !bytes.Equal(b, []byte{0, 0, 0}) {
		t.Fatalf("backing bytes not wiped: %v", b)
	}
	if err := s.Use(func(k []byte) error { return nil }); !errors.Is(err, ErrSecretZeroed) {
		t.Fatalf("expected ErrSecretZeroed, got %v", err)
	}
	s.Zero()
}

func TestZeroPrivateKeyClearsScalarWords(t *testing.T) {
	priv, _, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	words := priv.D.Bits()
	words = words[:cap(words)]

	ZeroPrivateKey(priv)

	if priv.D.Sign() != 0 {
		t.Fatal("scalar not reset")
	}
	for i, w := range words {
		if w != 0 {
			t.Fatalf("scalar word %d left in memory", i)
		}
	}
}
