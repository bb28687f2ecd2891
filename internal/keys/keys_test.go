package keys

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestGenerateWriteLoad(t *testing.T) {
	dir := t.TempDir()
	privPath := filepath.Join(dir, "keys", "private.pem")
	pubPath := filepath.Join(dir, "keys", "public.pem")

	pair, err := Generate(1024)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if err := pair.Write(privPath, pubPath); err != nil {
		t.Fatalf("Write: %v", err)
	}

	info, err := os.Stat(privPath)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("private key mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := Load(privPath, pubPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Public.N.Cmp(pair.Public.N) != 0 {
		t.Error("loaded public key does not match generated key")
	}

	// Empty public path falls back to the private key's public half.
	loaded, err = Load(privPath, "")
	if err != nil {
		t.Fatalf("Load without public path: %v", err)
	}
	if loaded.Public.N.Cmp(pair.Public.N) != 0 {
		t.Error("derived public key does not match")
	}

	pub, err := LoadPublic(pubPath)
	if err != nil {
		t.Fatalf("LoadPublic: %v", err)
	}
	if pub.E != pair.Public.E {
		t.Error("LoadPublic exponent mismatch")
	}
}

func TestLoadMismatchedPair(t *testing.T) {
	dir := t.TempDir()
	a, _ := Generate(1024)
	b, _ := Generate(1024)
	if err := a.Write(filepath.Join(dir, "a.pem"), filepath.Join(dir, "a.pub")); err != nil {
		t.Fatalf("Write a: %v", err)
	}
	if err := b.Write(filepath.Join(dir, "b.pem"), filepath.Join(dir, "b.pub")); err != nil {
		t.Fatalf("Write b: %v", err)
	}

	if _, err := Load(filepath.Join(dir, "a.pem"), filepath.Join(dir, "b.pub")); err == nil {
		t.Error("expected error for mismatched key pair")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.pem"), ""); err == nil {
		t.Error("expected error for missing private key")
	}
}

func TestLoadPublicRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.pem")
	if err := os.WriteFile(path, []byte("not a key"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	_, err := LoadPublic(path)
	if err == nil {
		t.Fatal("expected error for garbage public key")
	}
	if errors.Is(err, ErrNotRSA) {
		t.Error("garbage input should be a parse error, not ErrNotRSA")
	}
}
