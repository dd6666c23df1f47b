package identity

import (
	"errors"
	"fmt"

	"github.com/fernet/fernet-go"
)

var ErrInvalidToken = errors.New("invalid fernet token or wrong key")

// GenerateKey returns a fresh URL-safe base64 Fernet key.
func GenerateKey() (string, error) {
	var k fernet.Key
	if err := k.Generate(); err != nil {
		return "", fmt.Errorf("generate fernet key: %w", err)
	}
	return k.Encode(), nil
}

func Encrypt(plaintext, key string) (string, error) {
	k, err := fernet.DecodeKey(key)
	if err != nil {
		return "", fmt.Errorf("decode fernet key: %w", err)
	}
	tok, err := fernet.EncryptAndSign([]byte(plaintext), k)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return string(tok), nil
}

// Decrypt verifies token against key. Tokens never expire.
func Decrypt(token, key string) (string, error) {
	k, err := fernet.DecodeKey(key)
	if err != nil {
		return "", fmt.Errorf("decode fernet key: %w", err)
	}
	msg := fernet.VerifyAndDecrypt([]byte(token), -1, []*fernet.Key{k})
	if msg == nil {
		return "", ErrInvalidToken
	}
	return string(msg), nil
}
