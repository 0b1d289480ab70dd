// Package security authenticates inbound payment webhooks.
//
// Every scheme computes HMAC-SHA256 over the exact raw request bytes and
// compares with hmac.Equal. Verification returns false, never an error, for a
// normal mismatch, and always runs before the body is decoded.
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// HeaderName is the request header carrying the webhook signature.
const HeaderName = "Paddle-Signature"

// DefaultTolerance bounds how old a timestamped signature may be.
const DefaultTolerance = 5 * time.Minute

// Scheme is an on-wire signature format.
type Scheme interface {
	// Verify reports whether header is a valid signature of body under secret.
	Verify(body []byte, header string, secret []byte) bool
	// Sign produces the header value for body. Used by tests and the CLI.
	Sign(body []byte, secret []byte) string
}

// VerifyHMAC checks a bare base64 HMAC-SHA256 signature of rawBody.
func VerifyHMAC(rawBody []byte, signatureHeader string, sharedSecret []byte) bool {
	signatureHeader = strings.TrimSpace(signatureHeader)
	if len(rawBody) == 0 || signatureHeader == "" || len(sharedSecret) == 0 {
		return false
	}
	supplied, err := base64.StdEncoding.DecodeString(signatureHeader)
	if err != nil {
		return false
	}
	return hmac.Equal(mac(sharedSecret, rawBody), supplied)
}

// SchemeByName resolves a configured scheme name.
func SchemeByName(name string) (Scheme, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "paddle":
		return PaddleScheme{Tolerance: DefaultTolerance}, nil
	case "base64", "hmac":
		return Base64HMAC{}, nil
	case "hex":
		return HexHMAC{}, nil
	}
	return nil, fmt.Errorf("unknown signature scheme %q", name)
}

func mac(secret, msg []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write(msg)
	return h.Sum(nil)
}

// ─── Bare HMAC ──────────────────────────────────────────────────────────────

// Base64HMAC is a header holding base64(HMAC-SHA256(secret, body)).
type Base64HMAC struct{}

func (Base64HMAC) Verify(body []byte, header string, secret []byte) bool {
	return VerifyHMAC(body, header, secret)
}

func (Base64HMAC) Sign(body []byte, secret []byte) string {
	return base64.StdEncoding.EncodeToString(mac(secret, body))
}

// HexHMAC is a header holding hex(HMAC-SHA256(secret, body)).
type HexHMAC struct{}

func (HexHMAC) Verify(body []byte, header string, secret []byte) bool {
	header = strings.TrimSpace(header)
	if len(body) == 0 || header == "" || len(secret) == 0 {
		return false
	}
	supplied, err := hex.DecodeString(header)
	if err != nil {
		return false
	}
	return hmac.Equal(mac(secret, body), supplied)
}

func (HexHMAC) Sign(body []byte, secret []byte) string {
	return hex.EncodeToString(mac(secret, body))
}

// ─── Timestamped ────────────────────────────────────────────────────────────

// PaddleScheme is the structured "ts=<unix>;h1=<hex>" header. The MAC covers
// "<ts>:<body>", so a captured signature cannot be replayed outside Tolerance.
// Several h1 values may be present while a secret is being rotated.
type PaddleScheme struct {
	Tolerance time.Duration
	Now       func() time.Time
}

func (p PaddleScheme) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p PaddleScheme) Verify(body []byte, header string, secret []byte) bool {
	if len(body) == 0 || strings.TrimSpace(header) == "" || len(secret) == 0 {
		return false
	}
	var ts string
	var candidates [][]byte
	for _, part := range strings.Split(header, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "ts":
			ts = v
		case "h1":
			if b, err := hex.DecodeString(v); err == nil {
				candidates = append(candidates, b)
			}
		}
	}
	if ts == "" || len(candidates) == 0 {
		return false
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	if p.Tolerance > 0 {
		age := p.now().Sub(time.Unix(unix, 0))
		if age > p.Tolerance || age < -p.Tolerance {
			return false
		}
	}

	msg := make([]byte, 0, len(ts)+1+len(body))
	msg = append(msg, ts...)
	msg = append(msg, ':')
	msg = append(msg, body...)
	want := mac(secret, msg)

	valid := false
	for _, c := range candidates {
		if hmac.Equal(want, c) {
			valid = true
		}
	}
	return valid
}

func (p PaddleScheme) Sign(body []byte, secret []byte) string {
	ts := strconv.FormatInt(p.now().Unix(), 10)
	msg := append([]byte(ts+":"), body...)
	return "ts=" + ts + ";h1=" + hex.EncodeToString(mac(secret, msg))
}
