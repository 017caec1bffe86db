package signalr

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Sign answers a hub authentication challenge: HMAC-SHA-512 of the
// UTF-8 challenge keyed by the UTF-8 secret, rendered as uppercase hex
// with no separators.
func Sign(apiSecret, challenge string) string {
	mac := hmac.New(sha512.New, []byte(apiSecret))
	mac.Write([]byte(challenge))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

// GetAuthContext asks the hub for the challenge to sign.
func (m *ConnectionManager) GetAuthContext(ctx context.Context, apiKey string) (string, error) {
	result, err := m.Invoke(ctx, "GetAuthContext", apiKey)
	if err != nil {
		return "", err
	}
	var challenge string
	if err := json.Unmarshal(result, &challenge); err != nil {
		return "", fmt.Errorf("%w: unexpected auth context %s", ErrInvoke, result)
	}
	return challenge, nil
}

// Authenticate presents the signed challenge to the hub.
func (m *ConnectionManager) Authenticate(ctx context.Context, apiKey, signedChallenge string) (bool, error) {
	result, err := m.Invoke(ctx, "Authenticate", apiKey, signedChallenge)
	if err != nil {
		return false, err
	}
	var ok bool
	if err := json.Unmarshal(result, &ok); err != nil {
		return false, fmt.Errorf("%w: unexpected authenticate result %s", ErrInvoke, result)
	}
	return ok, nil
}
