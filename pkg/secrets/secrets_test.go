package secrets

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestV2RoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	ciphertext, err := EncodeV2("db", "hunter2", &kp.Public)
	require.NoError(t, err)

	out, err := DecodeV2(ciphertext, []*KeyPair{kp}, map[string]bool{"db": true})
	require.NoError(t, err)
	require.Equal(t, "hunter2", out)
}

func TestV2RejectsDisallowedNamespace(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	ciphertext, err := EncodeV2("db", "hunter2", &kp.Public)
	require.NoError(t, err)

	_, err = DecodeV2(ciphertext, []*KeyPair{kp}, map[string]bool{"other": true})
	require.Error(t, err)
}

func TestV2FlippedByteFailsToDecrypt(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	ciphertext, err := EncodeV2("db", "hunter2", &kp.Public)
	require.NoError(t, err)

	flipped := []byte(ciphertext)
	flipped[len(flipped)-1] ^= 0x01
	_, err = DecodeV2(string(flipped), []*KeyPair{kp}, map[string]bool{"db": true})
	require.Error(t, err)
}

func TestV2WrongKeyFailsToMatch(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	other, err := GenerateKeyPair()
	require.NoError(t, err)
	ciphertext, err := EncodeV2("db", "hunter2", &kp.Public)
	require.NoError(t, err)

	_, err = DecodeV2(ciphertext, []*KeyPair{other}, map[string]bool{"db": true})
	require.Error(t, err)
}

func TestV1RejectedByDefaultPolicy(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	legacy, err := EncodeV1("old-secret", kp)
	require.NoError(t, err)

	_, err = DecodeV1(Policy{}, legacy, kp)
	require.Error(t, err)

	out, err := DecodeV1(Policy{AllowV1: true}, legacy, kp)
	require.NoError(t, err)
	require.Equal(t, "old-secret", out)
}

func TestDecodeTriesCandidatesInOrder(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	good, err := EncodeV2("db", "right", &kp.Public)
	require.NoError(t, err)

	other, err := GenerateKeyPair()
	require.NoError(t, err)
	bad, err := EncodeV2("db", "wrong", &other.Public)
	require.NoError(t, err)

	out, err := Decode(Policy{}, []string{bad, good}, []*KeyPair{kp}, map[string]bool{"db": true})
	require.NoError(t, err)
	require.Equal(t, "right", out)
}
