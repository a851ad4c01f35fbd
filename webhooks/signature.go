package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderEventID   = "X-Bot-Event-ID"
	HeaderEventType = "X-Bot-Event-Type"
	HeaderTimestamp = "X-Bot-Timestamp"
	HeaderSignature = "X-Bot-Signature"

	SignaturePrefix = "sha256="
)

// Sign returns the X-Bot-Signature value: sha256=<hex hmac of "timestamp.body">.
// timestamp is the X-Bot-Timestamp header value sent with the same request.
func Sign(secret, timestamp string, body []byte) string {
	return SignaturePrefix + hex.EncodeToString(signedMAC(secret, timestamp, body))
}

func signedMAC(secret, timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte{'.'})
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}

// Verifier checks signed deliveries on the receiving bot side.
type Verifier struct {
	Secret string
	// MaxSkew bounds how far the signed X-Bot-Timestamp may drift from Now.
	// Zero disables the check; the timestamp is still covered by the signature.
	MaxSkew time.Duration
	Now     func() time.Time
}

func (v Verifier) Verify(headers http.Header, body []byte) error {
	secret := strings.TrimSpace(v.Secret)
	if secret == "" {
		return fmt.Errorf("webhooks: signature secret is required")
	}
	header := strings.TrimSpace(headers.Get(HeaderSignature))
	if header == "" {
		return fmt.Errorf("webhooks: %s header is required", HeaderSignature)
	}
	if !strings.HasPrefix(header, SignaturePrefix) {
		return fmt.Errorf("webhooks: unsupported signature scheme")
	}
	decoded, err := hex.DecodeString(strings.TrimPrefix(header, SignaturePrefix))
	if err != nil {
		return fmt.Errorf("webhooks: decode hex signature: %w", err)
	}

	rawTimestamp := strings.TrimSpace(headers.Get(HeaderTimestamp))
	sentAt, err := ParseTimestamp(rawTimestamp)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(decoded, signedMAC(secret, rawTimestamp, body)) != 1 {
		return fmt.Errorf("webhooks: signature verification failed")
	}

	if v.MaxSkew <= 0 {
		return nil
	}
	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}
	skew := now.Sub(sentAt)
	if skew < 0 {
		skew = -skew
	}
	if skew > v.MaxSkew {
		return fmt.Errorf("webhooks: delivery timestamp outside allowed skew of %s", v.MaxSkew)
	}
	return nil
}

func FormatTimestamp(at time.Time) string {
	return strconv.FormatInt(at.Unix(), 10)
}

func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("webhooks: %s header is required", HeaderTimestamp)
	}
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("webhooks: invalid %s header: %w", HeaderTimestamp, err)
	}
	return time.Unix(seconds, 0).UTC(), nil
}
