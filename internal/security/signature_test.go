package security

import (
	"strings"
	"testing"
	"time"
)

var (
	testBody   = []byte(`{"event_type":"transaction.completed","data":{"id":"ext-123"}}`)
	testSecret = []byte("whsec_test")
)

func TestVerifyHMAC(t *testing.T) {
	sig := Base64HMAC{}.Sign(testBody, testSecret)

	tests := []struct {
		name   string
		body   []byte
		header string
		secret []byte
		want   bool
	}{
		{"valid", testBody, sig, testSecret, true},
		{"valid with whitespace", testBody, " " + sig + " ", testSecret, true},
		{"empty body", nil, sig, testSecret, false},
		{"empty header", testBody, "", testSecret, false},
		{"empty secret", testBody, sig, nil, false},
		{"wrong secret", testBody, sig, []byte("other"), false},
		{"tampered body", []byte(string(testBody) + " "), sig, testSecret, false},
		{"not base64", testBody, "%%%", testSecret, false},
		{"hex instead of base64", testBody, HexHMAC{}.Sign(testBody, testSecret), testSecret, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyHMAC(tt.body, tt.header, tt.secret); got != tt.want {
				t.Errorf("VerifyHMAC() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHexHMAC(t *testing.T) {
	s := HexHMAC{}
	sig := s.Sign(testBody, testSecret)
	if len(sig) != 64 {
		t.Fatalf("hex signature length = %d, want 64", len(sig))
	}
	if !s.Verify(testBody, sig, testSecret) {
		t.Error("valid hex signature rejected")
	}
	if !s.Verify(testBody, strings.ToUpper(sig), testSecret) {
		t.Error("upper-case hex should decode to the same MAC")
	}
	if s.Verify(testBody, sig[:62], testSecret) {
		t.Error("truncated signature accepted")
	}
}

func TestPaddleScheme(t *testing.T) {
	fixed := time.Unix(1_700_000_000, 0)
	s := PaddleScheme{Tolerance: 5 * time.Second, Now: func() time.Time { return fixed }}
	header := s.Sign(testBody, testSecret)

	if !strings.HasPrefix(header, "ts=1700000000;h1=") {
		t.Fatalf("header = %q", header)
	}
	if !s.Verify(testBody, header, testSecret) {
		t.Error("valid signature rejected")
	}
	if s.Verify([]byte(`{}`), header, testSecret) {
		t.Error("signature for other body accepted")
	}

	// Rotation: a stale h1 alongside a valid one still verifies.
	rotated := header + ";h1=" + strings.Repeat("00", 32)
	if !s.Verify(testBody, rotated, testSecret) {
		t.Error("rotated header rejected")
	}

	late := PaddleScheme{Tolerance: 5 * time.Second, Now: func() time.Time { return fixed.Add(time.Minute) }}
	if late.Verify(testBody, header, testSecret) {
		t.Error("expired signature accepted")
	}

	for _, bad := range []string{"", "h1=abc", "ts=abc;h1=00", "ts=1700000000", "garbage"} {
		if s.Verify(testBody, bad, testSecret) {
			t.Errorf("Verify(%q) = true, want false", bad)
		}
	}
}

func TestSchemeByName(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"", "security.PaddleScheme", false},
		{"paddle", "security.PaddleScheme", false},
		{"base64", "security.Base64HMAC", false},
		{"HEX", "security.HexHMAC", false},
		{"md5", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := SchemeByName(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SchemeByName(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got := typeName(s); got != tt.want {
				t.Errorf("SchemeByName(%q) = %s, want %s", tt.name, got, tt.want)
			}
		})
	}
}

func typeName(s Scheme) string {
	switch s.(type) {
	case PaddleScheme:
		return "security.PaddleScheme"
	case Base64HMAC:
		return "security.Base64HMAC"
	case HexHMAC:
		return "security.HexHMAC"
	}
	return "?"
}
