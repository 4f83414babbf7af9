package cryptolayer

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpenCreatesKeyFileWithOwnerOnlyPermissions(t *testing.T) {
	dir := t.TempDir()
	layer, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if layer.ActiveVersion() != 1 {
		t.Fatalf("expected fresh layer at version 1, got %d", layer.ActiveVersion())
	}

	info, err := os.Stat(filepath.Join(dir, KeyFileName))
	if err != nil {
		t.Fatalf("stat key file: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected mode 0600, got %o", info.Mode().Perm())
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	layer, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	ciphertext, version, err := layer.Encrypt([]byte("entry-1"), []byte("secret payload"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	plaintext, err := layer.Decrypt([]byte("entry-1"), ciphertext, version)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(plaintext) != "secret payload" {
		t.Fatalf("unexpected plaintext: %s", plaintext)
	}
}

func TestEncryptDecryptMapRoundTrip(t *testing.T) {
	layer, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	obj := map[string]interface{}{"region": "us-east", "replicas": float64(3)}
	ciphertext, version, err := layer.EncryptMap([]byte("entry-1"), obj)
	if err != nil {
		t.Fatalf("EncryptMap: %v", err)
	}

	got, err := layer.DecryptMap([]byte("entry-1"), ciphertext, version)
	if err != nil {
		t.Fatalf("DecryptMap: %v", err)
	}
	if got["region"] != "us-east" {
		t.Fatalf("unexpected region: %v", got["region"])
	}
}

func TestRotatePersistsAndKeepsOldVersionsDecryptable(t *testing.T) {
	dir := t.TempDir()
	layer, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	ciphertext, v1, err := layer.Encrypt([]byte("entry-1"), []byte("before rotation"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	v2, err := layer.Rotate()
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if v2 != v1+1 {
		t.Fatalf("expected version to advance by 1, got %d -> %d", v1, v2)
	}

	plaintext, err := layer.Decrypt([]byte("entry-1"), ciphertext, v1)
	if err != nil {
		t.Fatalf("Decrypt old version after rotate: %v", err)
	}
	if string(plaintext) != "before rotation" {
		t.Fatalf("unexpected plaintext: %s", plaintext)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.ActiveVersion() != v2 {
		t.Fatalf("expected reopened layer at version %d, got %d", v2, reopened.ActiveVersion())
	}
	plaintext2, err := reopened.Decrypt([]byte("entry-1"), ciphertext, v1)
	if err != nil {
		t.Fatalf("Decrypt old version after reopen: %v", err)
	}
	if string(plaintext2) != "before rotation" {
		t.Fatalf("unexpected plaintext after reopen: %s", plaintext2)
	}
}

func TestRotateBeyondRetainedVersionsPrunesOldest(t *testing.T) {
	layer, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	ciphertext, v1, err := layer.Encrypt([]byte("entry-1"), []byte("oldest"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	for i := 0; i < DefaultRetainedVersions+1; i++ {
		if _, err := layer.Rotate(); err != nil {
			t.Fatalf("Rotate: %v", err)
		}
	}

	if _, err := layer.Decrypt([]byte("entry-1"), ciphertext, v1); err == nil {
		t.Fatal("expected the oldest key version to have been pruned")
	}
}
