package credentials

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	pkgerrors "github.com/angelmondragon/storegrid-backend/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	envelopeVersion = "v1"
	envelopePrefix  = envelopeVersion + ":"

	// KeySize is the required length of the raw master key.
	KeySize = 32

	hkdfInfo = "storegrid/credential-vault/" + envelopeVersion
)

// additional data binds ciphertexts to this envelope format.
var additionalData = []byte("storegrid:store_databases:" + envelopeVersion)

type sealer struct {
	id   byte
	aead cipher.AEAD
}

// Vault seals tenant connection strings at rest. The envelope is
// `v1:` followed by base64(keyID || nonce || ciphertext).
type Vault struct {
	current  sealer
	previous *sealer
	rand     io.Reader
}

// New builds a vault from the current master key and an optional previous key
// that is only used for decryption during rotation.
func New(key, previous []byte) (*Vault, error) {
	current, err := newSealer(key)
	if err != nil {
		return nil, err
	}
	v := &Vault{current: current, rand: rand.Reader}
	if len(previous) > 0 {
		prev, err := newSealer(previous)
		if err != nil {
			return nil, err
		}
		v.previous = &prev
	}
	return v, nil
}

func newSealer(key []byte) (sealer, error) {
	if len(key) != KeySize {
		return sealer{}, pkgerrors.New(pkgerrors.CodeDecryption, fmt.Sprintf("vault key must be %d bytes, got %d", KeySize, len(key)))
	}
	derived := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, key, nil, []byte(hkdfInfo)), derived); err != nil {
		return sealer{}, pkgerrors.Wrap(pkgerrors.CodeDecryption, err, "derive vault key")
	}
	aead, err := chacha20poly1305.NewX(derived)
	if err != nil {
		return sealer{}, pkgerrors.Wrap(pkgerrors.CodeDecryption, err, "init cipher")
	}
	fingerprint := sha256.Sum256(derived)
	return sealer{id: fingerprint[0], aead: aead}, nil
}

// Encrypt seals plaintext with the current key.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "plaintext is required")
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(v.rand, nonce); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate nonce")
	}

	buf := make([]byte, 0, 1+len(nonce)+len(plaintext)+v.current.aead.Overhead())
	buf = append(buf, v.current.id)
	buf = append(buf, nonce...)
	buf = v.current.aead.Seal(buf, nonce, []byte(plaintext), additionalData)
	return envelopePrefix + base64.StdEncoding.EncodeToString(buf), nil
}

// Decrypt opens an envelope produced by Encrypt with either the current or the previous key.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	keyID, nonce, sealed, err := parseEnvelope(ciphertext)
	if err != nil {
		return "", err
	}
	for _, candidate := range v.sealers() {
		if candidate.id != keyID {
			continue
		}
		plain, err := candidate.aead.Open(nil, nonce, sealed, additionalData)
		if err == nil {
			return string(plain), nil
		}
	}
	return "", pkgerrors.New(pkgerrors.CodeDecryption, "ciphertext does not open with any configured key")
}

// NeedsRekey reports whether ciphertext was sealed with a key other than the current one.
func (v *Vault) NeedsRekey(ciphertext string) bool {
	keyID, _, _, err := parseEnvelope(ciphertext)
	if err != nil {
		return true
	}
	return keyID != v.current.id
}

// KeyID identifies the current key in envelopes.
func (v *Vault) KeyID() byte {
	return v.current.id
}

func (v *Vault) sealers() []sealer {
	if v.previous == nil {
		return []sealer{v.current}
	}
	return []sealer{v.current, *v.previous}
}

func parseEnvelope(ciphertext string) (byte, []byte, []byte, error) {
	if !strings.HasPrefix(ciphertext, envelopePrefix) {
		return 0, nil, nil, pkgerrors.New(pkgerrors.CodeDecryption, "unsupported ciphertext envelope")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, envelopePrefix))
	if err != nil {
		return 0, nil, nil, pkgerrors.Wrap(pkgerrors.CodeDecryption, err, "decode ciphertext")
	}
	if len(raw) < 1+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return 0, nil, nil, pkgerrors.New(pkgerrors.CodeDecryption, "ciphertext too short")
	}
	nonce := raw[1 : 1+chacha20poly1305.NonceSizeX]
	return raw[0], nonce, raw[1+chacha20poly1305.NonceSizeX:], nil
}
