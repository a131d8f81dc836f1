package psk

import (
	"encoding/base64"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestNewAccessToken(t *testing.T) {
	token, err := NewAccessToken()
	if err != nil {
		t.Fatalf("NewAccessToken() error = %v", err)
	}

	key, err := DeriveKey(token)
	if err != nil {
		t.Fatalf("DeriveKey() error = %v", err)
	}
	if len(key) != TokenBytes {
		t.Fatalf("derived key length = %d, want %d", len(key), TokenBytes)
	}

	other, err := NewAccessToken()
	if err != nil {
		t.Fatalf("NewAccessToken() error = %v", err)
	}
	if token == other {
		t.Fatal("two generated tokens are identical")
	}
}

func TestDeriveKeyMalformed(t *testing.T) {
	if _, err := DeriveKey("not base64!!!"); err == nil {
		t.Fatal("DeriveKey() accepted malformed base64")
	}
	if _, err := DeriveKey(""); err == nil {
		t.Fatal("DeriveKey() accepted empty token")
	}
}

func TestMACRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		keyBytes := rapid.SliceOfN(rapid.Byte(), 1, 128).Draw(t, "key")
		token := base64.StdEncoding.EncodeToString(keyBytes)
		message := rapid.String().Draw(t, "message")

		mac, err := ComputeMAC(token, message)
		if err != nil {
			t.Fatalf("ComputeMAC() error = %v", err)
		}
		if !VerifyMAC(token, message, mac) {
			t.Fatalf("VerifyMAC() rejected its own digest")
		}
	})
}

func TestMACRejectsMutation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		keyBytes := rapid.SliceOfN(rapid.Byte(), 1, 128).Draw(t, "key")
		token := base64.StdEncoding.EncodeToString(keyBytes)
		message := string(rapid.SliceOfN(rapid.Byte(), 1, 256).Draw(t, "message"))

		mac, err := ComputeMAC(token, message)
		if err != nil {
			t.Fatalf("ComputeMAC() error = %v", err)
		}

		// Flip one bit somewhere in the message.
		raw := []byte(message)
		idx := rapid.IntRange(0, len(raw)-1).Draw(t, "idx")
		bit := rapid.IntRange(0, 7).Draw(t, "bit")
		raw[idx] ^= 1 << bit

		if VerifyMAC(token, string(raw), mac) {
			t.Fatalf("VerifyMAC() accepted a mutated message")
		}
	})
}

func TestMACRejectsWrongKey(t *testing.T) {
	tokenA, _ := NewAccessToken()
	tokenB, _ := NewAccessToken()

	mac, err := ComputeMAC(tokenA, `{"id":"abc"}`)
	if err != nil {
		t.Fatalf("ComputeMAC() error = %v", err)
	}
	if VerifyMAC(tokenB, `{"id":"abc"}`, mac) {
		t.Fatal("VerifyMAC() accepted a digest from a different key")
	}
}

func TestVerifyMACMalformedInputs(t *testing.T) {
	token, _ := NewAccessToken()
	mac, _ := ComputeMAC(token, "payload")

	if VerifyMAC("%%%", "payload", mac) {
		t.Fatal("VerifyMAC() accepted malformed token")
	}
	if VerifyMAC(token, "payload", "zz"+strings.Repeat("0", 62)) {
		t.Fatal("VerifyMAC() accepted non-hex digest")
	}
	if VerifyMAC(token, "payload", "") {
		t.Fatal("VerifyMAC() accepted empty digest")
	}
}
