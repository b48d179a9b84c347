package config

import (
	"reflect"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.ServerURL != "http://localhost:8080/v1" {
		t.Fatalf("ServerURL = %q", cfg.ServerURL)
	}
	if cfg.APIKey != "sk-no-key-required" {
		t.Fatalf("APIKey = %q", cfg.APIKey)
	}
	if cfg.Model != "local-model" {
		t.Fatalf("Model = %q", cfg.Model)
	}
	if cfg.SystemPrompt != "You are a helpful AI assistant." {
		t.Fatalf("SystemPrompt = %q", cfg.SystemPrompt)
	}
	if cfg.MaxImages != 5 {
		t.Fatalf("MaxImages = %d", cfg.MaxImages)
	}
	if cfg.NodeServer.BindAddr == "" {
		t.Fatalf("NodeServer.BindAddr empty")
	}
}

func TestParseListFlag(t *testing.T) {
	def := []string{"fallback"}
	cases := []struct {
		in   string
		want []string
	}{
		{"", def},
		{"a;b", []string{"a", "b"}},
		{" a ; ;b;", []string{"a", "b"}},
		{";;", def},
	}
	for _, tc := range cases {
		if got := parseListFlag(tc.in, def); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("parseListFlag(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
