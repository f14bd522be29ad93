package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries "t=<unix>,v1=<hex hmac-sha256>" over "<t>.<payload>".
const SignatureHeader = "Provider-Signature"

var (
	ErrInvalidSignature = errors.New("billing: invalid webhook signature")
	ErrInvalidPayload   = errors.New("billing: invalid webhook payload")
)

// VerifySignature checks header against payload. Several v1 entries are
// accepted so the provider can roll secrets. tolerance <= 0 disables the
// timestamp window.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return fmt.Errorf("%w: no webhook secret configured", ErrInvalidSignature)
	}

	ts, signatures, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
	}
	if tolerance > 0 {
		signedAt := time.Unix(unix, 0)
		if now.Sub(signedAt) > tolerance || signedAt.Sub(now) > tolerance {
			return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
		}
	}

	signed := signedPayload(ts, payload)
	for _, sig := range signatures {
		decoded, err := hex.DecodeString(strings.ToLower(sig))
		if err != nil {
			continue
		}
		if verifyHMAC(signed, decoded, []byte(secret), sha256.New) {
			return nil
		}
	}
	return fmt.Errorf("%w: no matching signature", ErrInvalidSignature)
}

// Sign produces a header value for payload signed at t.
func Sign(payload []byte, secret string, t time.Time) string {
	ts := strconv.FormatInt(t.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(signedPayload(ts, payload))
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

func signedPayload(ts string, payload []byte) []byte {
	out := make([]byte, 0, len(ts)+1+len(payload))
	out = append(out, ts...)
	out = append(out, '.')
	return append(out, payload...)
}

func parseSignatureHeader(header string) (string, []string, error) {
	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		switch key {
		case "t":
			timestamp = value
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, fmt.Errorf("%w: malformed header", ErrInvalidSignature)
	}
	return timestamp, signatures, nil
}

func verifyHMAC(payload, expectedSig, secret []byte, hashFunc func() hash.Hash) bool {
	mac := hmac.New(hashFunc, secret)
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), expectedSig)
}
