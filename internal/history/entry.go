package history

import (
	"time"

	"speedchecker/internal/provider"
)

// Entry is one normalized measurement record. Immutable once appended.
//
// Timestamps are stored as strings so both persisted forms round-trip the
// exact values the dashboard renders.
type Entry struct {
	Timestamp string  `json:"timestamp" csv:"Timestamp"`
	Date      string  `json:"date" csv:"Date"`
	Provider  string  `json:"provider" csv:"Provider"`
	Download  float64 `json:"download" csv:"Download"`
	Upload    float64 `json:"upload" csv:"Upload"`
	Ping      float64 `json:"ping" csv:"Ping"`
	Jitter    float64 `json:"jitter" csv:"Jitter"`
	ISP       string  `json:"isp" csv:"ISP"`
	Server    string  `json:"server" csv:"Server"`
}

const dateLayout = "2006-01-02 15:04:05"

// NewEntry builds an Entry from normalized metrics at the given instant.
func NewEntry(now time.Time, p provider.Provider, m provider.Metrics) Entry {
	utc := now.UTC()
	return Entry{
		Timestamp: utc.Format(time.RFC3339),
		Date:      utc.Format(dateLayout),
		Provider:  string(p),
		Download:  m.DownloadMbps,
		Upload:    m.UploadMbps,
		Ping:      m.PingMs,
		Jitter:    m.JitterMs,
		ISP:       m.ISP,
		Server:    m.Server,
	}
}
