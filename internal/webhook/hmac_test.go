package webhook

import (
	"strings"
	"testing"
)

func TestVerifyHMACSignature(t *testing.T) {
	secret := "test-secret-key"
	body := []byte(`{"args":[{"key":"env","value":"prod"}]}`)
	valid := Sign(body, secret)

	tests := []struct {
		name      string
		body      []byte
		signature string
		secret    string
		wantErr   bool
	}{
		{name: "GitHub format", body: body, signature: valid, secret: secret},
		{name: "plain hex", body: body, signature: strings.TrimPrefix(valid, "sha256="), secret: secret},
		{name: "wrong signature", body: body, signature: "sha256=" + strings.Repeat("0", 64), secret: secret, wantErr: true},
		{name: "tampered body", body: []byte(`{"args":[]}`), signature: valid, secret: secret, wantErr: true},
		{name: "wrong secret", body: body, signature: valid, secret: "other", wantErr: true},
		{name: "empty signature", body: body, signature: "", secret: secret, wantErr: true},
		{name: "empty secret", body: body, signature: valid, secret: "", wantErr: true},
		{name: "malformed hex", body: body, signature: "sha256=not-hex", secret: secret, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := verifyHMACSignature(tt.body, tt.signature, tt.secret)
			if (err != nil) != tt.wantErr {
				t.Errorf("verifyHMACSignature() error = %v, wantErr %v", err, tt.wantErr)
			}
			// All errors should be generic (no information leakage)
			if err != nil && err != errVerification {
				t.Errorf("error should be generic, got: %v", err)
			}
		})
	}
}

func TestSignIsDeterministic(t *testing.T) {
	a := Sign([]byte("payload"), "k")
	if a != Sign([]byte("payload"), "k") {
		t.Fatal("signature should be deterministic")
	}
	if !strings.HasPrefix(a, "sha256=") || len(a) != len("sha256=")+64 {
		t.Fatalf("unexpected signature format %q", a)
	}
	if a == Sign([]byte("other"), "k") {
		t.Fatal("different body should produce different signature")
	}
}
