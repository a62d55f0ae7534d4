package fileapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tacl-io/tacl/internal/crypto"
)

// GetServerPublicKey fetches the server's long-lived X25519 public key,
// used to seal per-transfer symmetric parameters.
func (c *Client) GetServerPublicKey(ctx context.Context) ([]byte, error) {
	url := c.fileURL(ServiceFiles, "crypto/key", nil)

	resp, err := c.do(ctx, http.MethodGet, url, nil, nil)
	if err != nil {
		return nil, err
	}

	if err := checkStatus(resp); err != nil {
		return nil, fmt.Errorf("fileapi: fetching server public key: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		PublicKey string `json:"public_key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("fileapi: decoding public key response: %w", err)
	}

	pub, err := base64.StdEncoding.DecodeString(body.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("fileapi: decoding public key: %w", err)
	}

	return pub, nil
}

// Encryptor holds the symmetric parameters for one transfer. In
// per-chunk mode (the resumable path) fresh material is generated and
// sealed for every chunk; otherwise one set covers the whole file.
type Encryptor struct {
	serverPub []byte
	chunkSize int64
	perChunk  bool

	nonce   []byte
	key     []byte
	headers crypto.Headers
}

// NewEncryptor generates the initial symmetric parameters and seals them
// to the server key.
func NewEncryptor(serverPub []byte, chunkSize int64, perChunk bool) (*Encryptor, error) {
	e := &Encryptor{serverPub: serverPub, chunkSize: chunkSize, perChunk: perChunk}
	if err := e.rekey(); err != nil {
		return nil, err
	}

	return e, nil
}

func (e *Encryptor) rekey() error {
	nonce, err := crypto.GenerateNonce()
	if err != nil {
		return err
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return err
	}

	headers, err := crypto.SealHeaders(e.serverPub, nonce, key, e.chunkSize)
	if err != nil {
		return err
	}

	e.nonce, e.key, e.headers = nonce, key, headers

	return nil
}

// EncryptChunk encrypts one chunk, returning the ciphertext and the
// sealed headers that must accompany it.
func (e *Encryptor) EncryptChunk(data []byte) ([]byte, crypto.Headers, error) {
	if e.perChunk && e.nonce == nil {
		if err := e.rekey(); err != nil {
			return nil, crypto.Headers{}, err
		}
	}

	enc, err := crypto.StreamXOR(data, e.nonce, e.key)
	if err != nil {
		return nil, crypto.Headers{}, err
	}

	headers := e.headers
	if e.perChunk {
		// Next chunk gets fresh material.
		e.nonce, e.key = nil, nil
	}

	return enc, headers, nil
}

// DecryptChunk reverses EncryptChunk with the current parameters. Used
// on downloads, where the client generated the material and the server
// encrypted the response with it.
func (e *Encryptor) DecryptChunk(data []byte) ([]byte, error) {
	return crypto.StreamXOR(data, e.nonce, e.key)
}

// Headers returns the sealed header values for the current parameters.
func (e *Encryptor) Headers() crypto.Headers {
	return e.headers
}

// applyEncryptionHeaders sets the NaCl content type and sealed key
// material on a request header set.
func applyEncryptionHeaders(h http.Header, headers crypto.Headers) {
	h.Set("Content-Type", crypto.ContentType)
	h.Set(crypto.HeaderNonce, headers.Nonce)
	h.Set(crypto.HeaderKey, headers.Key)
	h.Set(crypto.HeaderChunksize, headers.Chunksize)
}
