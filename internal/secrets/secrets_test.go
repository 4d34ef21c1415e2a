package secrets

import (
	"bytes"
	"errors"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	blob, err := Seal("passphrase", []byte("token-secret"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Contains(blob, []byte("token-secret")) {
		t.Fatal("plaintext visible in sealed blob")
	}

	got, err := Open("passphrase", blob)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if string(got) != "token-secret" {
		t.Errorf("opened = %q", got)
	}
}

func TestOpenWrongKeyFails(t *testing.T) {
	blob, err := Seal("passphrase", []byte("token-secret"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := Open("other", blob); err == nil {
		t.Fatal("open with wrong key must fail")
	}
}

func TestMissingKey(t *testing.T) {
	if _, err := Seal("  ", []byte("x")); !errors.Is(err, ErrMissingEncryptionKey) {
		t.Errorf("seal err = %v, want ErrMissingEncryptionKey", err)
	}
	if _, err := Open("", []byte("x")); !errors.Is(err, ErrMissingEncryptionKey) {
		t.Errorf("open err = %v, want ErrMissingEncryptionKey", err)
	}
}

func TestOpenTruncatedBlob(t *testing.T) {
	if _, err := Open("passphrase", []byte("short")); err == nil {
		t.Fatal("truncated blob must fail")
	}
}
