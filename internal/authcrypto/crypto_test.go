package authcrypto

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

const (
	testEncKey     = "development_OPBUWDIS1FBSRDU"
	testPassphrase = "cuwakimacojulawu"
)

func TestHashKnownVector(t *testing.T) {
	// sha256("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := HashString("abc"); got != want {
		t.Errorf("HashString: got %s, want %s", got, want)
	}
}

func TestHashEquals(t *testing.T) {
	h := HashString("key:secret")
	if !HashEquals(h, h) {
		t.Error("expected equal hashes to compare equal")
	}

	// Flip one bit of every character position in turn.
	for i := 0; i < len(h); i++ {
		b := []byte(h)
		b[i] ^= 0x01
		if HashEquals(h, string(b)) {
			t.Fatalf("perturbation at %d compared equal", i)
		}
	}

	if HashEquals(h, h[:len(h)-1]) {
		t.Error("expected truncated hash to compare unequal")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	inputs := [][]byte{
		{},
		[]byte("x"),
		[]byte("exactly sixteen!"),
		[]byte(`{"key":"qwertyuiop12345zxcvbnmkjh","timestamp":1656450618419,"hash":"abc"}`),
		bytes.Repeat([]byte{0xff}, 1000),
	}
	for _, in := range inputs {
		ct, err := Encrypt(in, testEncKey, testPassphrase)
		if err != nil {
			t.Fatalf("Encrypt(%d bytes): %v", len(in), err)
		}
		out, err := Decrypt(ct, testEncKey, testPassphrase)
		if err != nil {
			t.Fatalf("Decrypt(%d bytes): %v", len(in), err)
		}
		if !bytes.Equal(in, out) {
			t.Errorf("round trip mismatch for %d bytes", len(in))
		}
	}
}

func TestEncryptIsDeterministic(t *testing.T) {
	a, _ := Encrypt([]byte("payload"), testEncKey, testPassphrase)
	b, _ := Encrypt([]byte("payload"), testEncKey, testPassphrase)
	if a != b {
		t.Error("expected identical ciphertext for identical inputs")
	}
	c, _ := Encrypt([]byte("payload2"), testEncKey, testPassphrase)
	if a == c {
		t.Error("expected distinct ciphertext for distinct plaintext")
	}
}

func TestDecryptFailsClosed(t *testing.T) {
	ct, err := Encrypt([]byte("secret payload"), testEncKey, testPassphrase)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	raw, _ := base64.StdEncoding.DecodeString(ct)
	tampered := append([]byte{}, raw...)
	tampered[0] ^= 0x80

	tests := []struct {
		name       string
		ciphertext string
		key        string
		passphrase string
	}{
		{"wrong key", ct, testEncKey + "x", testPassphrase},
		{"wrong passphrase", ct, testEncKey, "cuwakimacojulawv"},
		{"not base64", "%%%not-base64%%%", testEncKey, testPassphrase},
		{"too short", base64.StdEncoding.EncodeToString([]byte("short")), testEncKey, testPassphrase},
		{"tampered", base64.StdEncoding.EncodeToString(tampered), testEncKey, testPassphrase},
		{"truncated", base64.StdEncoding.EncodeToString(raw[:len(raw)-1]), testEncKey, testPassphrase},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Decrypt(tt.ciphertext, tt.key, tt.passphrase)
			if !errors.Is(err, ErrDecryptionFailed) {
				t.Fatalf("expected ErrDecryptionFailed, got %v", err)
			}
			if out != nil {
				t.Errorf("expected nil plaintext, got %q", out)
			}
		})
	}
}

func TestBasicToken(t *testing.T) {
	tok := BasicToken("client", "s3cr:et")
	id, secret, err := ParseBasicToken(tok)
	if err != nil {
		t.Fatalf("ParseBasicToken: %v", err)
	}
	if id != "client" || secret != "s3cr:et" {
		t.Errorf("got (%q, %q), want (client, s3cr:et)", id, secret)
	}

	for _, bad := range []string{"!!", Base64Encode("nocolon"), Base64Encode(":secret"), Base64Encode("id:")} {
		if _, _, err := ParseBasicToken(bad); !errors.Is(err, ErrInvalidBasicToken) {
			t.Errorf("ParseBasicToken(%q): expected ErrInvalidBasicToken, got %v", bad, err)
		}
	}
}

func TestHMAC(t *testing.T) {
	a := HMAC("anchor", "key:1")
	if len(a) != 64 || strings.ToLower(a) != a {
		t.Errorf("expected 64 lowercase hex chars, got %q", a)
	}
	if a == HMAC("anchor", "key:2") {
		t.Error("expected different messages to produce different MACs")
	}
	if a == HMAC("other", "key:1") {
		t.Error("expected different keys to produce different MACs")
	}
}
