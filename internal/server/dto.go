package server

import (
	"speedchecker/internal/registry"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

// FailureResponse is the structured body for a failed synchronous run.
type FailureResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	Provider  string `json:"provider"`
	Attempts  int    `json:"attempts"`
	RawOutput string `json:"rawOutput,omitempty"`
}

type AckResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type StatusResponse struct {
	AutoTestEnabled  bool                           `json:"autoTestEnabled"`
	ActiveTests      map[string]registry.ActiveTest `json:"activeTests"`
	HasActiveTests   bool                           `json:"hasActiveTests"`
	CurrentTime      string                         `json:"currentTime"`
	CurrentTimestamp float64                        `json:"currentTimestamp"`
}
