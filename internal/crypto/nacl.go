// Package crypto implements the end-to-end encryption scheme the file
// API understands: XSalsa20 stream encryption per chunk, with the
// (nonce, key) pair sealed to the server's long-lived X25519 public key
// and shipped as request headers.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strconv"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/salsa20"
)

// KeySize is the XSalsa20 symmetric key length.
const KeySize = 32

// NonceSize is the XSalsa20 nonce length.
const NonceSize = 24

// ContentType is sent instead of application/octet-stream when the body
// is encrypted.
const ContentType = "application/octet-stream+nacl"

// Header names carrying the sealed key material and the plaintext chunk
// size.
const (
	HeaderNonce     = "Nacl-Nonce"
	HeaderKey       = "Nacl-Key"
	HeaderChunksize = "Nacl-Chunksize"
)

// GenerateKey returns a fresh random symmetric key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("crypto: generating key: %w", err)
	}

	return key, nil
}

// GenerateNonce returns a fresh random nonce.
func GenerateNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	return nonce, nil
}

// StreamXOR encrypts or decrypts data in place semantics-wise (a fresh
// buffer is returned). XSalsa20 is symmetric: applying it twice with the
// same (nonce, key) restores the plaintext.
func StreamXOR(data, nonce, key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("crypto: key must be %d bytes, got %d", KeySize, len(key))
	}

	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("crypto: nonce must be %d bytes, got %d", NonceSize, len(nonce))
	}

	var k [KeySize]byte
	copy(k[:], key)

	out := make([]byte, len(data))
	salsa20.XORKeyStream(out, data, nonce, &k)

	return out, nil
}

// Seal encrypts data to the recipient's X25519 public key using the
// sealed-box construction: an ephemeral keypair is generated, the nonce
// is blake2b-24(ephemeral_pk || recipient_pk), and the ephemeral public
// key is prepended to the box ciphertext. Only the holder of the
// recipient secret key can open it.
func Seal(recipientPub, data []byte) ([]byte, error) {
	if len(recipientPub) != KeySize {
		return nil, fmt.Errorf("crypto: public key must be %d bytes, got %d", KeySize, len(recipientPub))
	}

	ephPub, ephPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generating ephemeral keypair: %w", err)
	}

	var peer [KeySize]byte
	copy(peer[:], recipientPub)

	nonce, err := sealNonce(ephPub[:], recipientPub)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(ephPub)+len(data)+box.Overhead)
	out = append(out, ephPub[:]...)

	return box.Seal(out, data, &nonce, &peer, ephPriv), nil
}

// sealNonce derives the sealed-box nonce from the two public keys.
func sealNonce(ephPub, recipientPub []byte) ([NonceSize]byte, error) {
	var nonce [NonceSize]byte

	h, err := blake2b.New(NonceSize, nil)
	if err != nil {
		return nonce, fmt.Errorf("crypto: deriving seal nonce: %w", err)
	}

	h.Write(ephPub)
	h.Write(recipientPub)
	copy(nonce[:], h.Sum(nil))

	return nonce, nil
}

// Open reverses Seal given the recipient keypair. The client only needs
// this in tests — in production the server opens the boxes — but keeping
// it next to Seal pins the construction.
func Open(recipientPub, recipientPriv, sealed []byte) ([]byte, error) {
	if len(sealed) < KeySize+box.Overhead {
		return nil, fmt.Errorf("crypto: sealed box too short: %d bytes", len(sealed))
	}

	var ephPub, pub, priv [KeySize]byte
	copy(ephPub[:], sealed[:KeySize])
	copy(pub[:], recipientPub)
	copy(priv[:], recipientPriv)

	nonce, err := sealNonce(ephPub[:], recipientPub)
	if err != nil {
		return nil, err
	}

	plain, ok := box.Open(nil, sealed[KeySize:], &nonce, &ephPub, &priv)
	if !ok {
		return nil, fmt.Errorf("crypto: opening sealed box failed")
	}

	return plain, nil
}

// Headers carries the encoded header values for one encrypted request.
type Headers struct {
	Nonce     string
	Key       string
	Chunksize string
}

// SealHeaders seals the symmetric parameters to the server key and
// base64-encodes them for transport.
func SealHeaders(serverPub, nonce, key []byte, chunkSize int64) (Headers, error) {
	sealedNonce, err := Seal(serverPub, nonce)
	if err != nil {
		return Headers{}, err
	}

	sealedKey, err := Seal(serverPub, key)
	if err != nil {
		return Headers{}, err
	}

	return Headers{
		Nonce:     base64.StdEncoding.EncodeToString(sealedNonce),
		Key:       base64.StdEncoding.EncodeToString(sealedKey),
		Chunksize: strconv.FormatInt(chunkSize, 10),
	}, nil
}
