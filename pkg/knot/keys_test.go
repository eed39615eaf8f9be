package knot

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"lithos/pkg/config"
	"lithos/pkg/secrets"
)

func TestLoadSandboxKeysParsesAndDerivesPublic(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("key file must be owned by uid 0")
	}
	kp, err := secrets.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "key")
	contents := "# comment\n\n" + base64.StdEncoding.EncodeToString(kp.Private[:]) + "\n"
	if err := os.WriteFile(path, []byte(contents), 0600); err != nil {
		t.Fatalf("write key file: %v", err)
	}

	keys, err := loadSandboxKeys(&config.SandboxConfig{SecretsPrivateKey: path})
	if err != nil {
		t.Fatalf("loadSandboxKeys: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected one key, got %d", len(keys))
	}
	if keys[0].Public != kp.Public {
		t.Fatalf("derived public key mismatch")
	}
}

func TestLoadSandboxKeysRejectsBadMode(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("key file must be owned by uid 0")
	}
	kp, err := secrets.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "key")
	contents := base64.StdEncoding.EncodeToString(kp.Private[:]) + "\n"
	if err := os.WriteFile(path, []byte(contents), 0640); err != nil {
		t.Fatalf("write key file: %v", err)
	}

	if _, err := loadSandboxKeys(&config.SandboxConfig{SecretsPrivateKey: path}); err == nil {
		t.Fatalf("expected rejection of group-readable key file")
	}
}

func TestLoadSandboxKeysRejectsWrongOwner(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("cannot produce a non-root-owned file while running as root")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "key")
	if err := os.WriteFile(path, []byte("irrelevant\n"), 0600); err != nil {
		t.Fatalf("write key file: %v", err)
	}

	if _, err := loadSandboxKeys(&config.SandboxConfig{SecretsPrivateKey: path}); err == nil {
		t.Fatalf("expected rejection of non-root-owned key file")
	}
}

func TestLoadSandboxKeysEmptyPathReturnsNil(t *testing.T) {
	keys, err := loadSandboxKeys(&config.SandboxConfig{})
	if err != nil {
		t.Fatalf("loadSandboxKeys: %v", err)
	}
	if keys != nil {
		t.Fatalf("expected nil keys, got %v", keys)
	}
}
