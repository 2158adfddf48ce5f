package transcribe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyHMAC(t *testing.T) {
	secret := "webhook-secret"
	payload := []byte(`{"event":"transcript.completed","recording_id":"rec-9"}`)

	if !VerifyHMAC(secret, payload, sign(secret, payload)) {
		t.Error("valid signature rejected")
	}
	if VerifyHMAC(secret, payload, sign("other-secret", payload)) {
		t.Error("signature from wrong secret accepted")
	}
	if VerifyHMAC(secret, []byte(`tampered`), sign(secret, payload)) {
		t.Error("signature over different payload accepted")
	}
	if VerifyHMAC(secret, payload, "") {
		t.Error("empty signature accepted")
	}
	if VerifyHMAC("", payload, sign("", payload)) {
		t.Error("verification without a configured secret accepted")
	}
	if VerifyHMAC(secret, payload, "not-hex-at-all") {
		t.Error("garbage signature accepted")
	}
}
