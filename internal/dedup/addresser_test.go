package dedup_test

import (
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"dedup-go/internal/dedup"
)

func TestNewAddresser(t *testing.T) {
	tests := []struct {
		algorithm string
		want      string
		idLen     int
		wantErr   bool
	}{
		{"", dedup.AlgorithmSHA1, 40, false},
		{"sha1", dedup.AlgorithmSHA1, 40, false},
		{"sha256", dedup.AlgorithmSHA256, 64, false},
		{"blake3", dedup.AlgorithmBLAKE3, 64, false},
		{"md5", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.algorithm, func(t *testing.T) {
			a, err := dedup.NewAddresser(tt.algorithm)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewAddresser(%q) error = %v, wantErr %v", tt.algorithm, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if a.Algorithm() != tt.want {
				t.Errorf("Algorithm() = %q, want %q", a.Algorithm(), tt.want)
			}
			if id := a.Digest([]byte("x")); len(id) != tt.idLen {
				t.Errorf("len(Digest()) = %d, want %d", len(id), tt.idLen)
			}
		})
	}
}

func TestAddresser_Verify(t *testing.T) {
	a, _ := dedup.NewAddresser("sha1")

	// sha1("hello")
	const helloID = "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d"
	if err := a.Verify(helloID, []byte("hello")); err != nil {
		t.Errorf("Verify() error = %v", err)
	}

	err := a.Verify(helloID, []byte("hellO"))
	if !errors.Is(err, dedup.ErrHashMismatch) {
		t.Errorf("Verify() error = %v, want ErrHashMismatch", err)
	}
}

func TestAddresser_ValidID(t *testing.T) {
	a, _ := dedup.NewAddresser("sha1")

	tests := []struct {
		id   string
		want bool
	}{
		{"aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d", true},
		{"AAF4C61DDCC5E8A2DABEDE0F3B482CD9AEA9434D", false},
		{"aaf4c61d", false},
		{strings.Repeat("g", 40), false},
		{"", false},
	}
	for _, tt := range tests {
		if got := a.ValidID(tt.id); got != tt.want {
			t.Errorf("ValidID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestAddresser_StreamingMatchesDigest(t *testing.T) {
	a, _ := dedup.NewAddresser("blake3")
	data := []byte(strings.Repeat("block", 1000))

	h := a.New()
	h.Write(data[:100])
	h.Write(data[100:])
	if got := a.Digest(data); got != hex.EncodeToString(h.Sum(nil)) {
		t.Errorf("streaming digest differs from Digest()")
	}
}
