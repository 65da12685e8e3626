package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	KeySize   = 32 // AES-256 requires 32 bytes
	NonceSize = 12 // GCM standard nonce size
)

// EncryptForAccount encrypts plaintext (a refund address) under a key
// derived from masterKey and hashedKey via HKDF-SHA256, so a leaked
// ciphertext for one account can't be decrypted with another account's
// derived key even though every account shares the same masterKey.
// Returns base64-encoded: nonce + ciphertext.
func EncryptForAccount(plaintext, hashedKey string, masterKey []byte) (string, error) {
	return encrypt(plaintext, deriveAccountKey(masterKey, hashedKey))
}

// DecryptForAccount reverses EncryptForAccount.
func DecryptForAccount(ciphertext, hashedKey string, masterKey []byte) (string, error) {
	return decrypt(ciphertext, deriveAccountKey(masterKey, hashedKey))
}

// deriveAccountKey derives a per-account 32-byte subkey from masterKey,
// using hashedKey as the HKDF info parameter.
func deriveAccountKey(masterKey []byte, hashedKey string) []byte {
	sub := make([]byte, KeySize)
	kdf := hkdf.New(sha256.New, masterKey, nil, []byte(hashedKey))
	_, _ = io.ReadFull(kdf, sub) // hkdf.New never errors on Read for sha256 output sizes this small
	return sub
}

func encrypt(plaintext string, key []byte) (string, error) {
	if len(key) != KeySize {
		return "", errors.New("encryption key must be 32 bytes long")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func decrypt(ciphertext string, key []byte) (string, error) {
	if len(key) != KeySize {
		return "", errors.New("encryption key must be 32 bytes long")
	}

	decoded, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}
	if len(decoded) < NonceSize {
		return "", errors.New("ciphertext too short")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce, body := decoded[:NonceSize], decoded[NonceSize:]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return "", errors.New("decryption failed: invalid key or corrupted data")
	}
	return string(plaintext), nil
}

// GenerateKey generates a random 32-byte master encryption key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}
