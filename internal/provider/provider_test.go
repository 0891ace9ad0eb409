package provider

import (
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	if p, err := Parse(" OpenSpeedTest "); err != nil || p != OpenSpeedTest {
		t.Fatalf("Parse(openspeedtest) = %q, %v", p, err)
	}
	if p, err := Parse("speedsmart"); err != nil || p != SpeedSmart {
		t.Fatalf("Parse(speedsmart) = %q, %v", p, err)
	}
	if _, err := Parse("fast.com"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestExtractJSON(t *testing.T) {
	out := "\nRunning Open Speed Test\n| Running speed test...\n{\n  \"Ping\": \"12 ms\"\n}\ntrailing noise"
	got, ok := ExtractJSON(out)
	if !ok {
		t.Fatal("expected JSON to be found")
	}
	if !strings.HasPrefix(got, "{") || !strings.HasSuffix(got, "}") {
		t.Fatalf("unexpected extraction: %q", got)
	}

	if _, ok := ExtractJSON("no braces here"); ok {
		t.Fatal("expected no JSON in plain text")
	}
	if _, ok := ExtractJSON("} reversed {"); ok {
		t.Fatal("expected no JSON when braces are reversed")
	}
}

func TestNormalizeOpenSpeedTest(t *testing.T) {
	raw := map[string]any{
		"Download Speed":  "105.35 Mbps",
		"Upload Speed":    "23.1 Mbps",
		"Ping":            "14 ms",
		"Jitter":          "2.5 ms",
		"Server Location": " Contoso Telecom ",
		"Server Name":     "fra1",
	}
	m, err := Normalize(OpenSpeedTest, raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if m.DownloadMbps != 105.35 || m.UploadMbps != 23.1 {
		t.Fatalf("unexpected speeds: %+v", m)
	}
	if m.PingMs != 14 || m.JitterMs != 2.5 {
		t.Fatalf("unexpected latency: %+v", m)
	}
	if m.ISP != "Contoso Telecom" || m.Server != "fra1" {
		t.Fatalf("unexpected strings: %+v", m)
	}
}

func TestNormalizeSpeedSmart(t *testing.T) {
	raw := map[string]any{
		"download_speed": 88.4,
		"upload_speed":   11.0,
		"ping_speed":     float64(21),
		"jitter":         1.25,
		"isp_name":       "Contoso Telecom",
		"server_name":    "Frankfurt",
	}
	m, err := Normalize(SpeedSmart, raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if m.DownloadMbps != 88.4 || m.PingMs != 21 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
}

func TestNormalizeErrors(t *testing.T) {
	// Missing field.
	if _, err := Normalize(SpeedSmart, map[string]any{"download_speed": 1.0}); err == nil {
		t.Fatal("expected error for missing fields")
	}
	// Mistyped field: speedsmart speeds must be numbers.
	raw := map[string]any{
		"download_speed": "88.4",
		"upload_speed":   11.0,
		"ping_speed":     21.0,
		"jitter":         1.25,
		"isp_name":       "x",
		"server_name":    "y",
	}
	if _, err := Normalize(SpeedSmart, raw); err == nil {
		t.Fatal("expected error for mistyped field")
	}
	// Unparsable leading token.
	raw2 := map[string]any{
		"Download Speed":  "fast Mbps",
		"Upload Speed":    "1 Mbps",
		"Ping":            "1 ms",
		"Jitter":          "1 ms",
		"Server Location": "x",
		"Server Name":     "y",
	}
	if _, err := Normalize(OpenSpeedTest, raw2); err == nil {
		t.Fatal("expected error for unparsable number")
	}
}
