package fileapi

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServerKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 1)
	}

	return key
}

func TestEncryptorRoundTrip(t *testing.T) {
	e, err := NewEncryptor(testServerKey(), 1024, false)
	require.NoError(t, err)

	plain := []byte("the quick brown fox")

	enc, headers, err := e.EncryptChunk(plain)
	require.NoError(t, err)
	assert.NotEqual(t, plain, enc)
	assert.NotEmpty(t, headers.Nonce)
	assert.NotEmpty(t, headers.Key)
	assert.Equal(t, "1024", headers.Chunksize)

	dec, err := e.DecryptChunk(enc)
	require.NoError(t, err)
	assert.Equal(t, plain, dec)
}

func TestEncryptorPerChunkRekeys(t *testing.T) {
	e, err := NewEncryptor(testServerKey(), 1024, true)
	require.NoError(t, err)

	_, first, err := e.EncryptChunk([]byte("one"))
	require.NoError(t, err)

	_, second, err := e.EncryptChunk([]byte("two"))
	require.NoError(t, err)

	assert.NotEqual(t, first.Nonce, second.Nonce)
	assert.NotEqual(t, first.Key, second.Key)
}

func TestGetServerPublicKey(t *testing.T) {
	pub := testServerKey()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/p11/files/crypto/key", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"public_key":%q}`, base64.StdEncoding.EncodeToString(pub))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := newTestClient(srv)

	got, err := c.GetServerPublicKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pub, got)
}
