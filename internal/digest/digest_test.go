package digest

import (
	"errors"
	"testing"
)

func TestNew_KnownAlgorithms(t *testing.T) {
	tests := []struct {
		name    string
		algo    string
		wantLen int
	}{
		{name: "default", algo: "", wantLen: 64},
		{name: "sha256", algo: "SHA256", wantLen: 64},
		{name: "sha256 lowercase", algo: "sha256", wantLen: 64},
		{name: "sha256 dashed", algo: "SHA-256", wantLen: 64},
		{name: "sha512", algo: "SHA512", wantLen: 128},
		{name: "sha3-256", algo: "SHA3-256", wantLen: 64},
		{name: "sha3-512", algo: "sha3_512", wantLen: 128},
		{name: "blake3", algo: "BLAKE3", wantLen: 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn, err := New(tt.algo)
			if err != nil {
				t.Fatalf("New(%q) error = %v", tt.algo, err)
			}
			if got := HexLen(fn); got != tt.wantLen {
				t.Errorf("HexLen() = %d, want %d", got, tt.wantLen)
			}
			if !IsHex(fn([]byte("hello"))) {
				t.Error("digest output should be hex")
			}
		})
	}
}

func TestNew_UnsupportedAlgorithm(t *testing.T) {
	for _, algo := range []string{"MD5", "SHA1", "whirlpool"} {
		t.Run(algo, func(t *testing.T) {
			fn, err := New(algo)
			if !errors.Is(err, ErrUnsupportedAlgorithm) {
				t.Fatalf("New(%q) error = %v, want ErrUnsupportedAlgorithm", algo, err)
			}
			if fn != nil {
				t.Error("New() should return nil func on error")
			}
		})
	}
}

func TestSHA256_KnownVector(t *testing.T) {
	fn := Default()
	// sha256("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := fn([]byte("abc")); got != want {
		t.Errorf("Default()(abc) = %s, want %s", got, want)
	}
}

func TestDigest_Deterministic(t *testing.T) {
	for _, algo := range Algorithms() {
		fn, err := New(algo)
		if err != nil {
			t.Fatalf("New(%q) error = %v", algo, err)
		}
		a := fn([]byte("login"))
		b := fn([]byte("login"))
		if a != b {
			t.Errorf("%s: digest not deterministic", algo)
		}
		if a == fn([]byte("logout")) {
			t.Errorf("%s: different inputs produced the same digest", algo)
		}
	}
}

func TestAlgorithms_Sorted(t *testing.T) {
	names := Algorithms()
	if len(names) != 5 {
		t.Fatalf("Algorithms() returned %d names, want 5", len(names))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Errorf("Algorithms() not sorted: %v", names)
		}
	}
}

func TestIsHex(t *testing.T) {
	tests := map[string]bool{
		"":         false,
		"abc123":   true,
		"ABCDEF":   true,
		"xyz":      false,
		"12 34":    false,
		"deadbeef": true,
	}
	for in, want := range tests {
		if got := IsHex(in); got != want {
			t.Errorf("IsHex(%q) = %v, want %v", in, got, want)
		}
	}
}
