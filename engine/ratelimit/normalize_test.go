package ratelimit

import "testing"

func TestNormalizeDomain(t *testing.T) {
	cases := map[string]string{
		"Example.COM":          "example.com",
		"sub.example.com:80":   "sub.example.com",
		"sub.example.com:443":  "sub.example.com",
		"sub.example.com:8080": "sub.example.com:8080",
		"https://Docs.Example.com/path": "docs.example.com",
	}

	for input, expected := range cases {
		actual, err := normalizeDomain(input)
		if err != nil {
			t.Fatalf("normalizeDomain(%q) returned error: %v", input, err)
		}
		if actual != expected {
			t.Fatalf("normalizeDomain(%q) = %q, want %q", input, actual, expected)
		}
	}
}

func TestNormalizeDomainRejectsEmpty(t *testing.T) {
	if _, err := normalizeDomain(""); err == nil {
		t.Fatal("expected error for empty domain")
	}
	if _, err := normalizeDomain("   "); err == nil {
		t.Fatal("expected error for blank domain")
	}
}
