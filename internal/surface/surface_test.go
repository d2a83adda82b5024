package surface

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestVerifyHMAC_ValidSignature(t *testing.T) {
	secret := []byte("webhook-secret")
	body := []byte(`{"ref":"refs/heads/main"}`)

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	if !VerifyHMAC(secret, body, sig) {
		t.Fatal("expected a correctly computed signature to verify")
	}
}

func TestVerifyHMAC_TamperedBody(t *testing.T) {
	secret := []byte("webhook-secret")
	body := []byte(`{"ref":"refs/heads/main"}`)

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	if VerifyHMAC(secret, []byte(`{"ref":"refs/heads/evil"}`), sig) {
		t.Fatal("expected a tampered body to fail verification")
	}
}

func TestVerifyHMAC_WrongSecret(t *testing.T) {
	body := []byte(`{"ref":"refs/heads/main"}`)
	mac := hmac.New(sha256.New, []byte("secret-a"))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	if VerifyHMAC([]byte("secret-b"), body, sig) {
		t.Fatal("expected a signature keyed by a different secret to fail verification")
	}
}
