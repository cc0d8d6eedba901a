package encryption

import (
	"testing"

	"dedup-go/internal/config"
)

func TestNewEncryptorFromConfig(t *testing.T) {
	tests := []struct {
		typ     string
		wantNil bool
		wantErr bool
	}{
		{typ: "none", wantNil: true},
		{typ: "", wantNil: true},
		{typ: "age"},
		{typ: "test"},
		{typ: "rot13", wantNil: true, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			got, err := NewEncryptorFromConfig(config.EncryptionConfig{Type: tt.typ})
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewEncryptorFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if (got == nil) != tt.wantNil {
				t.Errorf("NewEncryptorFromConfig() nil = %v, want %v", got == nil, tt.wantNil)
			}
		})
	}
}

func TestUnlockFromEnv(t *testing.T) {
	e := NewTestEncryptor()
	if err := e.Setup("hunter2"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	t.Run("unset variable", func(t *testing.T) {
		t.Setenv("DEDUP_TEST_PASSPHRASE", "")
		if _, err := UnlockFromEnv(e, "DEDUP_TEST_PASSPHRASE"); err == nil {
			t.Error("UnlockFromEnv() expected error for empty passphrase")
		}
	})

	t.Run("wrong passphrase", func(t *testing.T) {
		t.Setenv("DEDUP_TEST_PASSPHRASE", "nope")
		if _, err := UnlockFromEnv(e, "DEDUP_TEST_PASSPHRASE"); err == nil {
			t.Error("UnlockFromEnv() expected error for wrong passphrase")
		}
	})

	t.Run("unlocks", func(t *testing.T) {
		t.Setenv("DEDUP_TEST_PASSPHRASE", "hunter2")
		dec, err := UnlockFromEnv(e, "DEDUP_TEST_PASSPHRASE")
		if err != nil {
			t.Fatalf("UnlockFromEnv() error = %v", err)
		}
		if dec == nil {
			t.Error("UnlockFromEnv() returned nil context")
		}
	})
}
