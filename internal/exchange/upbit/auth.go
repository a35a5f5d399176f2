package upbit

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/google/uuid"
)

// Credentials holds the API key pair.
type Credentials struct {
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// authToken builds the venue's JWT bearer token: HS256 over a payload of
// access key, a fresh nonce and, when query parameters are present, their
// SHA512 hash.
func authToken(creds Credentials, query url.Values) (string, error) {
	payload := map[string]string{
		"access_key": creds.AccessKey,
		"nonce":      uuid.NewString(),
	}
	if len(query) > 0 {
		sum := sha512.Sum512([]byte(query.Encode()))
		payload["query_hash"] = hex.EncodeToString(sum[:])
		payload["query_hash_alg"] = "SHA512"
	}

	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("upbit: marshal jwt payload: %w", err)
	}
	claims := base64.RawURLEncoding.EncodeToString(body)

	signingInput := header + "." + claims
	mac := hmac.New(sha256.New, []byte(creds.SecretKey))
	mac.Write([]byte(signingInput))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	return signingInput + "." + sig, nil
}
