package knot

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"syscall"

	"lithos/pkg/config"
	"lithos/pkg/errs"
	"lithos/pkg/secrets"
)

// checkKeyFilePermissions refuses a secrets_private_key file that isn't
// owned by root or that grants any permission bit to group or other: the
// file holds the sandbox's decryption keys, so a loose mode or ownership
// would let an unrelated local user read or replace them.
func checkKeyFilePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errs.New(errs.Secrets, "check-key-permissions", path, err)
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return errs.New(errs.Secrets, "check-key-permissions", path, fmt.Errorf("cannot determine file ownership"))
	}
	if st.Uid != 0 {
		return errs.New(errs.Secrets, "check-key-permissions", path, fmt.Errorf("must be owned by uid 0, got uid %d", st.Uid))
	}
	if info.Mode().Perm()&0077 != 0 {
		return errs.New(errs.Secrets, "check-key-permissions", path, fmt.Errorf("must not grant group or other any permission, got mode %o", info.Mode().Perm()))
	}
	return nil
}

// loadSandboxKeys reads the sandbox's secrets_private_key file: one
// base64-encoded 32-byte X25519 private key per line, blank lines and
// "#"-prefixed comments ignored. Multiple keys let a sandbox rotate its
// secrets key while old ciphertexts baked into existing images still
// decrypt.
func loadSandboxKeys(s *config.SandboxConfig) ([]*secrets.KeyPair, error) {
	if s.SecretsPrivateKey == "" {
		return nil, nil
	}
	if err := checkKeyFilePermissions(s.SecretsPrivateKey); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.SecretsPrivateKey)
	if err != nil {
		return nil, errs.New(errs.Secrets, "load-keys", s.SecretsPrivateKey, err)
	}

	var keys []*secrets.KeyPair
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(line)
		if err != nil {
			return nil, errs.New(errs.Secrets, "load-keys", s.SecretsPrivateKey, err)
		}
		if len(raw) != 32 {
			return nil, errs.New(errs.Secrets, "load-keys", s.SecretsPrivateKey, fmt.Errorf("private key must be exactly 32 bytes, got %d", len(raw)))
		}
		kp, err := secrets.FromPrivate(raw)
		if err != nil {
			return nil, errs.New(errs.Secrets, "load-keys", s.SecretsPrivateKey, err)
		}
		keys = append(keys, kp)
	}
	return keys, nil
}
