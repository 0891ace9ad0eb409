// Package provider defines the closed set of measurement providers and the
// per-provider knowledge needed to invoke them and read their output.
//
// Adding a provider means adding one enum value, one mapping table entry and
// one command in the settings file; no branch logic elsewhere.
package provider

import (
	"fmt"
	"strconv"
	"strings"
)

// Provider identifies one of the fixed third-party measurement sources.
type Provider string

const (
	OpenSpeedTest Provider = "openspeedtest"
	SpeedSmart    Provider = "speedsmart"
)

// All returns every known provider in canonical run order.
func All() []Provider { return []Provider{OpenSpeedTest, SpeedSmart} }

// Parse validates a provider name.
func Parse(s string) (Provider, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(s))) {
	case OpenSpeedTest:
		return OpenSpeedTest, nil
	case SpeedSmart:
		return SpeedSmart, nil
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

// Metrics is the provider-agnostic shape extracted from a raw result.
type Metrics struct {
	DownloadMbps float64
	UploadMbps   float64
	PingMs       float64
	JitterMs     float64
	ISP          string
	Server       string
}

// fieldKind describes how a mapped source field is decoded.
type fieldKind int

const (
	// kindLeadingFloat parses the leading number out of strings like "123.45 Mbps".
	kindLeadingFloat fieldKind = iota
	// kindNumber expects a plain JSON number.
	kindNumber
	// kindText expects a JSON string.
	kindText
)

type fieldSpec struct {
	key  string
	kind fieldKind
}

// mapping names the source field for each canonical metric.
type mapping struct {
	download fieldSpec
	upload   fieldSpec
	ping     fieldSpec
	jitter   fieldSpec
	isp      fieldSpec
	server   fieldSpec
}

// mappings is the per-provider field-mapping table.
//
// openspeedtest reports unit-suffixed strings and puts the ISP under
// "Server Location"; speedsmart reports bare numbers. Both quirks come from
// the upstream result pages and are preserved as-is.
var mappings = map[Provider]mapping{
	OpenSpeedTest: {
		download: fieldSpec{"Download Speed", kindLeadingFloat},
		upload:   fieldSpec{"Upload Speed", kindLeadingFloat},
		ping:     fieldSpec{"Ping", kindLeadingFloat},
		jitter:   fieldSpec{"Jitter", kindLeadingFloat},
		isp:      fieldSpec{"Server Location", kindText},
		server:   fieldSpec{"Server Name", kindText},
	},
	SpeedSmart: {
		download: fieldSpec{"download_speed", kindNumber},
		upload:   fieldSpec{"upload_speed", kindNumber},
		ping:     fieldSpec{"ping_speed", kindNumber},
		jitter:   fieldSpec{"jitter", kindNumber},
		isp:      fieldSpec{"isp_name", kindText},
		server:   fieldSpec{"server_name", kindText},
	},
}

// Normalize maps a decoded provider result onto the canonical metrics.
// A missing or mistyped field is an error; nothing is guessed.
func Normalize(p Provider, raw map[string]any) (Metrics, error) {
	m, ok := mappings[p]
	if !ok {
		return Metrics{}, fmt.Errorf("unknown provider %q", p)
	}

	var (
		out Metrics
		err error
	)
	if out.DownloadMbps, err = floatField(raw, m.download); err != nil {
		return Metrics{}, err
	}
	if out.UploadMbps, err = floatField(raw, m.upload); err != nil {
		return Metrics{}, err
	}
	if out.PingMs, err = floatField(raw, m.ping); err != nil {
		return Metrics{}, err
	}
	if out.JitterMs, err = floatField(raw, m.jitter); err != nil {
		return Metrics{}, err
	}
	if out.ISP, err = textField(raw, m.isp); err != nil {
		return Metrics{}, err
	}
	if out.Server, err = textField(raw, m.server); err != nil {
		return Metrics{}, err
	}
	return out, nil
}

func floatField(raw map[string]any, spec fieldSpec) (float64, error) {
	v, ok := raw[spec.key]
	if !ok {
		return 0, fmt.Errorf("missing field %q", spec.key)
	}
	switch spec.kind {
	case kindLeadingFloat:
		s, ok := v.(string)
		if !ok {
			return 0, fmt.Errorf("field %q: expected string, got %T", spec.key, v)
		}
		return parseLeadingFloat(spec.key, s)
	case kindNumber:
		f, ok := v.(float64)
		if !ok {
			return 0, fmt.Errorf("field %q: expected number, got %T", spec.key, v)
		}
		return f, nil
	}
	return 0, fmt.Errorf("field %q: not numeric", spec.key)
}

func textField(raw map[string]any, spec fieldSpec) (string, error) {
	v, ok := raw[spec.key]
	if !ok {
		return "", fmt.Errorf("missing field %q", spec.key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q: expected string, got %T", spec.key, v)
	}
	return strings.TrimSpace(s), nil
}

// parseLeadingFloat reads the first whitespace-delimited token as a float,
// so "123.45 Mbps" and "12 ms" both work.
func parseLeadingFloat(key, s string) (float64, error) {
	tok := strings.Fields(s)
	if len(tok) == 0 {
		return 0, fmt.Errorf("field %q: empty value", key)
	}
	f, err := strconv.ParseFloat(tok[0], 64)
	if err != nil {
		return 0, fmt.Errorf("field %q: parse %q: %w", key, tok[0], err)
	}
	return f, nil
}
