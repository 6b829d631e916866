package webhook

import (
	"strings"
	"testing"

	"github.com/mattjoyce/dropwatch/internal/config"
)

func TestFromConfig(t *testing.T) {
	cfg, err := FromConfig(config.WebhooksConfig{
		Listen: "127.0.0.1:0",
		Endpoints: []config.WebhookEndpoint{{
			Path:        "/hooks/nightly",
			Job:         "nightly_build",
			Secret:      "s",
			Args:        map[string]string{"region": "west", "env": "prod"},
			MaxBodySize: "64KB",
		}},
	})
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	ep := cfg.Endpoints[0]
	if ep.MaxBodySize != 64*1024 {
		t.Errorf("MaxBodySize = %d", ep.MaxBodySize)
	}
	if ep.SignatureHeader != DefaultSignatureHeader {
		t.Errorf("SignatureHeader = %q", ep.SignatureHeader)
	}
	// Map args come out sorted so descriptors are stable.
	if len(ep.Args) != 2 || ep.Args[0].Key != "env" || ep.Args[1].Key != "region" {
		t.Errorf("Args = %+v", ep.Args)
	}
}

func TestFromConfigRejects(t *testing.T) {
	tests := []struct {
		name    string
		ep      config.WebhookEndpoint
		wantErr string
	}{
		{"no secret", config.WebhookEndpoint{Path: "/h", Job: "a"}, "no secret"},
		{"bad job", config.WebhookEndpoint{Path: "/h", Job: "a-b", Secret: "s"}, "job name"},
		{"bad arg", config.WebhookEndpoint{Path: "/h", Job: "a", Secret: "s", Args: map[string]string{"k": "x=y"}}, "value"},
		{"bad size", config.WebhookEndpoint{Path: "/h", Job: "a", Secret: "s", MaxBodySize: "lots"}, "max_body_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromConfig(config.WebhooksConfig{Endpoints: []config.WebhookEndpoint{tt.ep}})
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseMaxBodySize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", DefaultMaxBodySize, false},
		{"2048", 2048, false},
		{"1kb", 1024, false},
		{"2MB", 2 << 20, false},
		{"1GB", 1 << 30, false},
		{"0", 0, true},
		{"-5", 0, true},
		{"MB", 0, true},
		{"9223372036854775807GB", 0, true},
	}
	for _, tt := range tests {
		got, err := parseMaxBodySize(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("parseMaxBodySize(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if !tt.wantErr && got != tt.want {
			t.Fatalf("parseMaxBodySize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
