package upbit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthTokenShape(t *testing.T) {
	creds := Credentials{AccessKey: "access", SecretKey: "secret"}
	q := url.Values{}
	q.Set("market", "KRW-BTC")
	q.Set("side", "bid")

	token, err := authToken(creds, q)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)

	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	require.NoError(t, err)
	var header map[string]string
	require.NoError(t, json.Unmarshal(headerJSON, &header))
	assert.Equal(t, "HS256", header["alg"])

	claimsJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	var claims map[string]string
	require.NoError(t, json.Unmarshal(claimsJSON, &claims))
	assert.Equal(t, "access", claims["access_key"])
	assert.NotEmpty(t, claims["nonce"])
	assert.Equal(t, "SHA512", claims["query_hash_alg"])
	assert.Len(t, claims["query_hash"], 128)

	mac := hmac.New(sha256.New, []byte(creds.SecretKey))
	mac.Write([]byte(parts[0] + "." + parts[1]))
	want := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	assert.Equal(t, want, parts[2])
}

func TestAuthTokenWithoutQueryOmitsHash(t *testing.T) {
	token, err := authToken(Credentials{AccessKey: "a", SecretKey: "s"}, nil)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	claimsJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	var claims map[string]string
	require.NoError(t, json.Unmarshal(claimsJSON, &claims))
	_, ok := claims["query_hash"]
	assert.False(t, ok)
}
