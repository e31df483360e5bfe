package credentials

import (
	"crypto/rand"
	"io"

	ierrors "github.com/jrsteele09/go-clinic-session/internal/errors"
	"github.com/pkg/errors"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const (
	nonceLength = 24
	keyLength   = 32
	SaltLength  = 16

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// Sealer encrypts persisted records with a key derived from a passphrase
type Sealer struct {
	key [keyLength]byte
}

// NewSealer derives the sealing key from passphrase and salt with scrypt
func NewSealer(passphrase string, salt []byte) (*Sealer, error) {
	if passphrase == "" {
		return nil, errors.New("[NewSealer] passphrase is required")
	}
	if len(salt) < SaltLength {
		return nil, errors.Errorf("[NewSealer] salt must be at least %d bytes", SaltLength)
	}

	derived, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, keyLength)
	if err != nil {
		return nil, errors.Wrap(err, "[NewSealer] scrypt.Key")
	}

	s := &Sealer{}
	copy(s.key[:], derived)
	return s, nil
}

// NewSalt returns random bytes suitable for NewSealer
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, errors.Wrap(err, "[NewSalt] rand")
	}
	return salt, nil
}

// Seal returns nonce || box
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	var nonce [nonceLength]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, errors.Wrap(err, "[Sealer.Seal] rand")
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &s.key), nil
}

func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceLength+secretbox.Overhead {
		return nil, ierrors.ErrSealed
	}

	var nonce [nonceLength]byte
	copy(nonce[:], sealed[:nonceLength])
	plaintext, ok := secretbox.Open(nil, sealed[nonceLength:], &nonce, &s.key)
	if !ok {
		return nil, ierrors.ErrSealed
	}
	return plaintext, nil
}
