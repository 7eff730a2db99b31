// Package secrets seals stored server passwords with age so the credential
// file never holds them in clear text.
//
// A sealed value is "age:" followed by the standard base64 encoding of an age
// ciphertext addressed to a single X25519 recipient. Values without the prefix
// are treated as legacy clear text and returned unchanged by Open.
package secrets

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
)

// Prefix marks a sealed value.
const Prefix = "age:"

// ErrSealed is returned when a sealed value is opened without an identity.
var ErrSealed = errors.New("value is sealed and no age identity is configured")

// Sealer converts passwords to and from their stored form.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(stored string) (string, error)
}

// IsSealed reports whether stored carries the sealed prefix.
func IsSealed(stored string) bool {
	return strings.HasPrefix(stored, Prefix)
}

// AgeSealer seals to the recipient of one X25519 identity.
type AgeSealer struct {
	identity *age.X25519Identity
}

// NewAgeSealer wraps an existing identity.
func NewAgeSealer(identity *age.X25519Identity) *AgeSealer {
	return &AgeSealer{identity: identity}
}

// LoadOrCreate reads the identity at path, generating and writing a new one
// (mode 0600) when the file does not exist.
func LoadOrCreate(path string) (*AgeSealer, bool, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		identity, err := parseIdentity(data)
		if err != nil {
			return nil, false, fmt.Errorf("parsing identity %s: %w", path, err)
		}
		return NewAgeSealer(identity), false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, fmt.Errorf("reading identity %s: %w", path, err)
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, false, fmt.Errorf("generating age identity: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, false, fmt.Errorf("creating identity directory: %w", err)
	}
	body := fmt.Sprintf("# sshdeck password identity\n# public key: %s\n%s\n",
		identity.Recipient().String(), identity.String())
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		return nil, false, fmt.Errorf("writing identity %s: %w", path, err)
	}
	return NewAgeSealer(identity), true, nil
}

func parseIdentity(data []byte) (*age.X25519Identity, error) {
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return age.ParseX25519Identity(line)
	}
	return nil, errors.New("no identity found")
}

// Recipient returns the public key values are sealed to.
func (s *AgeSealer) Recipient() string {
	return s.identity.Recipient().String()
}

func (s *AgeSealer) Seal(plaintext string) (string, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, s.identity.Recipient())
	if err != nil {
		return "", fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", fmt.Errorf("writing plaintext: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalizing age encryption: %w", err)
	}
	return Prefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func (s *AgeSealer) Open(stored string) (string, error) {
	if !IsSealed(stored) {
		return stored, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, Prefix))
	if err != nil {
		return "", fmt.Errorf("decoding sealed value: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(raw), s.identity)
	if err != nil {
		return "", fmt.Errorf("decrypting: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading decrypted value: %w", err)
	}
	return string(plain), nil
}

// Plaintext stores passwords as given.
type Plaintext struct{}

func (Plaintext) Seal(plaintext string) (string, error) {
	return plaintext, nil
}

func (Plaintext) Open(stored string) (string, error) {
	if IsSealed(stored) {
		return "", ErrSealed
	}
	return stored, nil
}

var (
	_ Sealer = (*AgeSealer)(nil)
	_ Sealer = Plaintext{}
)
