package delivery

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestSignKnownVector(t *testing.T) {
	// echo -n 'hello' | openssl dgst -sha256 -hmac 'key'
	got := Sign("key", []byte("hello"))
	want := "9307b3b915efb5171ff14d8cb55fbcc798c6c0ef1456d66ded1a6aa723a58b7b"
	if got != want {
		t.Errorf("Sign = %s, want %s", got, want)
	}
}

func TestSignatureHeaderFormat(t *testing.T) {
	h := SignatureHeader("secret", []byte(`{"event":"import.completed"}`))
	if !strings.HasPrefix(h, "sha256=") {
		t.Fatalf("header %q must carry the sha256= prefix", h)
	}
	if len(h) != len("sha256=")+64 {
		t.Errorf("header length = %d, want hex-encoded 32 bytes", len(h))
	}
}

func TestSignProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	properties.Property("deterministic", prop.ForAll(
		func(secret string, payload []byte) bool {
			return Sign(secret, payload) == Sign(secret, payload)
		},
		gen.AnyString(),
		gen.SliceOf(gen.UInt8()),
	))

	properties.Property("any byte flip changes the signature", prop.ForAll(
		func(secret string, payload []byte, idx uint8) bool {
			if len(payload) == 0 {
				return true
			}
			mutated := append([]byte(nil), payload...)
			mutated[int(idx)%len(mutated)] ^= 0x01
			return Sign(secret, payload) != Sign(secret, mutated)
		},
		gen.AnyString(),
		gen.SliceOf(gen.UInt8()),
		gen.UInt8(),
	))

	properties.Property("different secrets disagree", prop.ForAll(
		func(secret string, payload []byte) bool {
			return Sign(secret, payload) != Sign(secret+"x", payload)
		},
		gen.AnyString(),
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}
