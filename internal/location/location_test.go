package location

import "testing"

func TestParseGet(t *testing.T) {
	loc, err := Parse("https://example.com/api/v1?x=1")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if loc.Scheme != SchemeGet {
		t.Errorf("Scheme = %q, want %q", loc.Scheme, SchemeGet)
	}
	if loc.Host != "example.com" {
		t.Errorf("Host = %q", loc.Host)
	}
	if loc.Port != DefaultPort {
		t.Errorf("Port = %d, want %d", loc.Port, DefaultPort)
	}
	if loc.Path != "/api/v1" {
		t.Errorf("Path = %q", loc.Path)
	}
	if loc.Query != "x=1" {
		t.Errorf("Query = %q", loc.Query)
	}
}

func TestParseExplicitPort(t *testing.T) {
	loc, err := Parse("posts://example.com:8443/upload")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if loc.Port != 8443 {
		t.Errorf("Port = %d, want 8443", loc.Port)
	}
	if loc.Scheme != SchemePost {
		t.Errorf("Scheme = %q", loc.Scheme)
	}
}

func TestParseUserInfoCertPinning(t *testing.T) {
	loc, err := Parse("fulls://cert=/etc/x.pem;key=/etc/x.key@example.com/do")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if loc.CertFile != "/etc/x.pem" || loc.KeyFile != "/etc/x.key" {
		t.Errorf("CertFile=%q KeyFile=%q", loc.CertFile, loc.KeyFile)
	}
}

func TestParseUnsupportedScheme(t *testing.T) {
	if _, err := Parse("http://example.com/"); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
}

func TestParseMissingHost(t *testing.T) {
	if _, err := Parse("https:///path"); err == nil {
		t.Fatal("expected error for missing host")
	}
}

func TestParseDefaultPath(t *testing.T) {
	loc, err := Parse("https://example.com")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if loc.Path != "/" {
		t.Errorf("Path = %q, want \"/\"", loc.Path)
	}
}
