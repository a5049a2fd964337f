// Package auth verifies the HMAC-signed callbacks delivered by the
// decryption oracle. The oracle is the only caller allowed to finalize a
// decryption request, so the webhook carries an API key, a unix timestamp,
// a nonce, and an HMAC-SHA256 signature over the canonical request.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// HeaderAPIKey is the header containing the caller's API key identifier.
	HeaderAPIKey = "X-Api-Key"
	// HeaderTimestamp is the unix timestamp (seconds) used when signing the request.
	HeaderTimestamp = "X-Timestamp"
	// HeaderNonce provides replay protection when combined with the timestamp.
	HeaderNonce = "X-Nonce"
	// HeaderSignature carries the hex-encoded HMAC-SHA256 signature for the request.
	HeaderSignature = "X-Signature"
	// MaxBodyForSignature is the maximum body size we will hash when authenticating.
	MaxBodyForSignature int = 1 << 20 // 1 MiB

	defaultTimestampSkew = 2 * time.Minute
	defaultNonceWindow   = 10 * time.Minute
)

// Principal represents an authenticated webhook caller.
type Principal struct {
	APIKey string
}

// Verifier checks API key + HMAC signatures on oracle callbacks and keeps a
// sliding nonce window to reject replayed deliveries.
type Verifier struct {
	secrets map[string]string
	skew    time.Duration
	window  time.Duration
	nowFn   func() time.Time

	mu     sync.Mutex
	nonces map[string]time.Time
}

// NewVerifier builds a Verifier keyed by the provided secrets, mapping API
// key identifiers to their shared secret.
func NewVerifier(secrets map[string]string, skew, window time.Duration, nowFn func() time.Time) *Verifier {
	cloned := make(map[string]string, len(secrets))
	for k, v := range secrets {
		cloned[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	if skew <= 0 {
		skew = defaultTimestampSkew
	}
	if window <= 0 {
		window = defaultNonceWindow
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Verifier{
		secrets: cloned,
		skew:    skew,
		window:  window,
		nowFn:   nowFn,
		nonces:  make(map[string]time.Time),
	}
}

// Verify validates headers and signature, returning the caller principal.
func (v *Verifier) Verify(r *http.Request, body []byte) (*Principal, error) {
	if len(body) > MaxBodyForSignature {
		return nil, fmt.Errorf("request body exceeds %d bytes", MaxBodyForSignature)
	}
	apiKey := strings.TrimSpace(r.Header.Get(HeaderAPIKey))
	if apiKey == "" {
		return nil, errors.New("missing X-Api-Key header")
	}
	secret, ok := v.secrets[apiKey]
	if !ok || secret == "" {
		return nil, errors.New("unknown API key")
	}
	timestampHeader := strings.TrimSpace(r.Header.Get(HeaderTimestamp))
	if timestampHeader == "" {
		return nil, errors.New("missing X-Timestamp header")
	}
	ts, err := parseUnixTimestamp(timestampHeader)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp: %w", err)
	}
	now := v.nowFn().UTC()
	skew := now.Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > v.skew {
		return nil, fmt.Errorf("timestamp outside allowed skew of %s", v.skew)
	}
	nonce := strings.TrimSpace(r.Header.Get(HeaderNonce))
	if nonce == "" {
		return nil, errors.New("missing X-Nonce header")
	}
	providedSig := strings.TrimSpace(r.Header.Get(HeaderSignature))
	if providedSig == "" {
		return nil, errors.New("missing X-Signature header")
	}
	expected := ComputeSignature(secret, timestampHeader, nonce, r.Method, canonicalPath(r), body)
	providedBytes, err := hex.DecodeString(providedSig)
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding: %w", err)
	}
	if !hmac.Equal(providedBytes, expected) {
		return nil, errors.New("invalid signature")
	}
	if v.registerNonce(apiKey, timestampHeader, nonce, now) {
		return nil, errors.New("nonce already used")
	}
	return &Principal{APIKey: apiKey}, nil
}

// registerNonce records the nonce and reports whether it was seen before
// within the sliding window.
func (v *Verifier) registerNonce(apiKey, timestamp, nonce string, now time.Time) bool {
	key := apiKey + "|" + timestamp + "|" + nonce
	v.mu.Lock()
	defer v.mu.Unlock()
	cutoff := now.Add(-v.window)
	for k, seen := range v.nonces {
		if seen.Before(cutoff) {
			delete(v.nonces, k)
		}
	}
	if _, dup := v.nonces[key]; dup {
		return true
	}
	v.nonces[key] = now
	return false
}

// ComputeSignature derives the canonical HMAC-SHA256 signature for a
// request. Callers (the oracle, tests) must sign the same payload.
func ComputeSignature(secret, timestamp, nonce, method, path string, body []byte) []byte {
	payload := strings.Join([]string{timestamp, nonce, strings.ToUpper(method), path, string(body)}, "\n")
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

func canonicalPath(r *http.Request) string {
	path := r.URL.Path
	if path == "" {
		path = "/"
	}
	return path
}

func parseUnixTimestamp(v string) (time.Time, error) {
	secs, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(secs, 0).UTC(), nil
}
