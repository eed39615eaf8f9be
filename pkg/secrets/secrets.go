// Package secrets implements lithos's two secret wire formats used by a
// knot's decrypt-at-startup step: the legacy v1 format, which embeds the
// recipient's own public key as a secretbox symmetric key, and v2, which
// wraps a sealed box around "<namespace>:<secret>" plus three short
// blake2b hashes that let a knot match ciphertext, key, and namespace
// without attempting every combination blind.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"

	"lithos/pkg/errs"
)

// curve25519ScalarBaseMult recovers the X25519 public key matching a
// private scalar, used when a sandbox's key file stores only the private
// half (nacl/box.GenerateKey always returns both, but an operator-rotated
// key dropped onto disk by hand may not carry its public counterpart).
func curve25519ScalarBaseMult(pub, priv *[32]byte) {
	out, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		panic("curve25519: invalid base point")
	}
	copy(pub[:], out)
}

// Policy controls whether a knot accepts the legacy v1 format at all.
// The zero value rejects v1; lithos-knot sets AllowV1 only when started
// with LITHOS_ALLOW_LEGACY_SECRETS=1 in its environment.
type Policy struct {
	AllowV1 bool
}

// KeyPair is a nacl/box X25519 key pair: Public is published inside image
// metadata for secret-sealing tools, Private is read by the knot from the
// sandbox's secrets_private_key file.
type KeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// GenerateKeyPair creates a fresh sandbox key pair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errs.New(errs.Secrets, "generate-keypair", "", err)
	}
	return &KeyPair{Public: *pub, Private: *priv}, nil
}

// FromPrivate derives a KeyPair from a stored 32-byte X25519 private key,
// recomputing the matching public key via scalar base multiplication.
func FromPrivate(priv []byte) (*KeyPair, error) {
	if len(priv) != 32 {
		return nil, errs.New(errs.Secrets, "from-private", "", fmt.Errorf("private key must be 32 bytes, got %d", len(priv)))
	}
	var kp KeyPair
	copy(kp.Private[:], priv)
	curve25519ScalarBaseMult(&kp.Public, &kp.Private)
	return &kp, nil
}

func shortHash(b []byte) (string, error) {
	h, err := blake2b.New(6, nil)
	if err != nil {
		return "", err
	}
	h.Write(b)
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// DecodeV1 implements the legacy format: "v1:base64(pubkey32 || nonce24 ||
// ciphertext)" opened with secretbox using kp.Public reused as the
// symmetric key. Rejected unless policy.AllowV1.
func DecodeV1(policy Policy, ciphertext string, kp *KeyPair) (string, error) {
	if !policy.AllowV1 {
		return "", errs.New(errs.Secrets, "decode-v1", "", fmt.Errorf("v1 secrets are disabled by policy"))
	}
	body := strings.TrimPrefix(ciphertext, "v1:")
	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return "", errs.New(errs.Secrets, "decode-v1", "", err)
	}
	if len(raw) < 32+24 {
		return "", errs.New(errs.Secrets, "decode-v1", "", fmt.Errorf("ciphertext too short"))
	}
	var nonce [24]byte
	copy(nonce[:], raw[32:56])
	out, ok := secretbox.Open(nil, raw[56:], &nonce, &kp.Public)
	if !ok {
		return "", errs.New(errs.Secrets, "decode-v1", "", fmt.Errorf("secretbox authentication failed"))
	}
	return string(out), nil
}

// EncodeV1 produces a v1-format payload, test support for exercising
// DecodeV1 and for sandboxes migrating old images.
func EncodeV1(plaintext string, kp *KeyPair) (string, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", errs.New(errs.Secrets, "encode-v1", "", err)
	}
	sealed := secretbox.Seal(nil, []byte(plaintext), &nonce, &kp.Public)
	payload := make([]byte, 0, 32+24+len(sealed))
	payload = append(payload, kp.Public[:]...)
	payload = append(payload, nonce[:]...)
	payload = append(payload, sealed...)
	return "v1:" + base64.StdEncoding.EncodeToString(payload), nil
}

// v2Ciphertext is one parsed "v2:<pubkey-hash>:<ns-hash>:<secret-hash>:
// <sealedbox-b64>" value.
type v2Ciphertext struct {
	KeyHash    string
	NSHash     string
	SecretHash string
	Sealed     string
}

func parseV2(ciphertext string) (v2Ciphertext, error) {
	parts := strings.SplitN(ciphertext, ":", 5)
	if len(parts) != 5 || parts[0] != "v2" {
		return v2Ciphertext{}, errs.New(errs.Secrets, "decode-v2", "", fmt.Errorf("malformed v2 ciphertext"))
	}
	return v2Ciphertext{KeyHash: parts[1], NSHash: parts[2], SecretHash: parts[3], Sealed: parts[4]}, nil
}

// sealed-box payload layout: ephemeral public key (32 bytes) || nonce (24
// bytes) || box.Seal ciphertext, an ephemeral-sender-key construction
// built from nacl/box's ordinary authenticated Seal/Open. It carries an
// explicit random nonce, so it is not byte-compatible with libsodium's
// crypto_box_seal or nacl/box's SealAnonymous/OpenAnonymous: only
// payloads produced by sealFor open here.
func openSealed(b64 string, priv *[32]byte) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	if len(raw) < 32+24 {
		return nil, fmt.Errorf("sealed-box payload too short")
	}
	var senderPub [32]byte
	var nonce [24]byte
	copy(senderPub[:], raw[:32])
	copy(nonce[:], raw[32:56])
	out, ok := box.Open(nil, raw[56:], &nonce, &senderPub, priv)
	if !ok {
		return nil, fmt.Errorf("sealed-box authentication failed")
	}
	return out, nil
}

func sealFor(plaintext []byte, pub *[32]byte) (string, error) {
	ephPub, ephPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return "", err
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", err
	}
	sealed := box.Seal(nil, plaintext, &nonce, pub, ephPriv)
	payload := make([]byte, 0, 32+24+len(sealed))
	payload = append(payload, ephPub[:]...)
	payload = append(payload, nonce[:]...)
	payload = append(payload, sealed...)
	return base64.StdEncoding.EncodeToString(payload), nil
}

// EncodeV2 produces a "v2:..." ciphertext for secret in namespace ns,
// sealed for recipient pub.
func EncodeV2(ns, secret string, pub *[32]byte) (string, error) {
	keyHash, err := shortHash(pub[:])
	if err != nil {
		return "", errs.New(errs.Secrets, "encode-v2", "", err)
	}
	nsHash, err := shortHash([]byte(ns))
	if err != nil {
		return "", errs.New(errs.Secrets, "encode-v2", "", err)
	}
	secretHash, err := shortHash([]byte(secret))
	if err != nil {
		return "", errs.New(errs.Secrets, "encode-v2", "", err)
	}
	sealed, err := sealFor([]byte(ns+":"+secret), pub)
	if err != nil {
		return "", errs.New(errs.Secrets, "encode-v2", "", err)
	}
	return fmt.Sprintf("v2:%s:%s:%s:%s", keyHash, nsHash, secretHash, sealed), nil
}

// DecodeV2 enforces a fixed verification ordering: the ciphertext's key
// hash must match one of kp's public keys before an open
// is even attempted; the opened "<namespace>:<secret>" is split, namespace
// must be in allowedNamespaces, both short hashes must match what the
// ciphertext claims, and the secret must not contain a NUL byte.
func DecodeV2(ciphertext string, keys []*KeyPair, allowedNamespaces map[string]bool) (string, error) {
	c, err := parseV2(ciphertext)
	if err != nil {
		return "", err
	}
	for _, kp := range keys {
		kh, err := shortHash(kp.Public[:])
		if err != nil {
			return "", errs.New(errs.Secrets, "decode-v2", "", err)
		}
		if kh != c.KeyHash {
			continue
		}
		plain, err := openSealed(c.Sealed, &kp.Private)
		if err != nil {
			return "", errs.New(errs.Secrets, "decode-v2", "", err)
		}
		ns, secret, ok := strings.Cut(string(plain), ":")
		if !ok {
			return "", errs.New(errs.Secrets, "decode-v2", "", fmt.Errorf("malformed sealed payload"))
		}
		if !allowedNamespaces[ns] {
			return "", errs.New(errs.Secrets, "decode-v2", "", fmt.Errorf("namespace %q not permitted", ns))
		}
		nsHash, err := shortHash([]byte(ns))
		if err != nil {
			return "", errs.New(errs.Secrets, "decode-v2", "", err)
		}
		secretHash, err := shortHash([]byte(secret))
		if err != nil {
			return "", errs.New(errs.Secrets, "decode-v2", "", err)
		}
		if nsHash != c.NSHash || secretHash != c.SecretHash {
			return "", errs.New(errs.Secrets, "decode-v2", "", fmt.Errorf("short hash mismatch"))
		}
		if strings.ContainsRune(secret, 0) {
			return "", errs.New(errs.Secrets, "decode-v2", "", fmt.Errorf("secret contains NUL byte"))
		}
		return secret, nil
	}
	return "", errs.New(errs.Secrets, "decode-v2", "", fmt.Errorf("no key matches ciphertext"))
}

// Decode tries ciphertexts in order against keys, returning the first
// successful decryption. Used by the knot for one requested secret name's
// candidate list.
func Decode(policy Policy, ciphertexts []string, keys []*KeyPair, allowedNamespaces map[string]bool) (string, error) {
	var lastErr error
	for _, c := range ciphertexts {
		switch {
		case strings.HasPrefix(c, "v1:"):
			for _, kp := range keys {
				out, err := DecodeV1(policy, c, kp)
				if err == nil {
					return out, nil
				}
				lastErr = err
			}
		case strings.HasPrefix(c, "v2:"):
			out, err := DecodeV2(c, keys, allowedNamespaces)
			if err == nil {
				return out, nil
			}
			lastErr = err
		default:
			lastErr = errs.New(errs.Secrets, "decode", "", fmt.Errorf("unrecognized secret format"))
		}
	}
	if lastErr == nil {
		lastErr = errs.New(errs.Secrets, "decode", "", fmt.Errorf("no ciphertexts provided"))
	}
	return "", lastErr
}
