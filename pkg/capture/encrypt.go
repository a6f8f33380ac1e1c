// pkg/capture/encrypt.go

package capture

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
)

// Encryptor protects capture records at rest. Records are compressed
// before they are sealed.
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// LoadRSAKey reads an RSA private key in any of the usual PEM encodings
// (PKCS#1, PKCS#8 or OpenSSH), the same formats operators already use for
// the archive uploads.
func LoadRSAKey(path, passphrase string) (*rsa.PrivateKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var key interface{}
	if passphrase != "" {
		key, err = ssh.ParseRawPrivateKeyWithPassphrase(b, []byte(passphrase))
	} else {
		key, err = ssh.ParseRawPrivateKey(b)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.Errorf("%s is not an RSA private key", path)
	}
	return rsaKey, nil
}

var oaepLabel = []byte("speadflow-capture")

type rsaEncryptor struct {
	privKey *rsa.PrivateKey
}

// NewRSAEncryptor seals short payloads (the per-record AES keys) with
// RSA-OAEP under the key's public half.
func NewRSAEncryptor(privKey *rsa.PrivateKey) Encryptor {
	return &rsaEncryptor{privKey}
}

func (e *rsaEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	return rsa.EncryptOAEP(sha256.New(), rand.Reader, &e.privKey.PublicKey, plaintext, oaepLabel)
}

func (e *rsaEncryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	return rsa.DecryptOAEP(sha256.New(), rand.Reader, e.privKey, ciphertext, oaepLabel)
}

const aesKeyLen = 32 // AES-256-GCM

// aesEncryptor seals each record with a fresh AES-256-GCM key and stores
// the key alongside, sealed by keys. The envelope is framed like the rest
// of the capture format, big endian:
//
//	u16 sealed key length, sealed key, GCM nonce, ciphertext
type aesEncryptor struct {
	keys Encryptor
}

// NewAESEncryptor wraps a key encryptor (normally NewRSAEncryptor) for
// bulk record data.
func NewAESEncryptor(keys Encryptor) Encryptor {
	return &aesEncryptor{keys}
}

func (e *aesEncryptor) seal(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (e *aesEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	key := make([]byte, aesKeyLen)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	sealedKey, err := e.keys.Encrypt(key)
	if err != nil {
		return nil, errors.Wrap(err, "seal record key")
	}
	aead, err := e.seal(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	buf := make([]byte, 2+len(sealedKey)+len(nonce), 2+len(sealedKey)+len(nonce)+len(plaintext)+aead.Overhead())
	binary.BigEndian.PutUint16(buf, uint16(len(sealedKey)))
	copy(buf[2:], sealedKey)
	copy(buf[2+len(sealedKey):], nonce)
	return aead.Seal(buf, nonce, plaintext, nil), nil
}

func (e *aesEncryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < 2 {
		return nil, errors.New("truncated record envelope")
	}
	keyLen := int(binary.BigEndian.Uint16(ciphertext))
	rest := ciphertext[2:]
	if len(rest) < keyLen {
		return nil, errors.Errorf("truncated record envelope: key %d of %d", keyLen, len(rest))
	}
	key, err := e.keys.Decrypt(rest[:keyLen])
	if err != nil {
		return nil, errors.Wrap(err, "unseal record key")
	}
	aead, err := e.seal(key)
	if err != nil {
		return nil, err
	}
	rest = rest[keyLen:]
	if len(rest) < aead.NonceSize() {
		return nil, errors.New("truncated record envelope")
	}
	return aead.Open(nil, rest[:aead.NonceSize()], rest[aead.NonceSize():], nil)
}
