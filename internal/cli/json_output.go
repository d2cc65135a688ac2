// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// json_output.go - JSON output for --json mode.
//
// Every command that supports --json wraps its data in JSONResponse so
// editor extensions and scripts can parse one shape.
package cli

import (
	"encoding/json"
	"os"
	"time"
)

// JSONResponse is the response envelope for --json output.
type JSONResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`

	// Error is null when Success is true.
	Error *string `json:"error"`

	// Timestamp is RFC3339 UTC.
	Timestamp string `json:"timestamp"`

	Command string `json:"command,omitempty"`
}

// NewJSONResponse creates a new successful JSON response.
func NewJSONResponse(command string, data interface{}) *JSONResponse {
	return &JSONResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// NewJSONErrorResponse creates an error response. details describes the
// error in machine-readable form and may be nil.
func NewJSONErrorResponse(command string, err error, details interface{}) *JSONResponse {
	errStr := err.Error()
	return &JSONResponse{
		Success:   false,
		Data:      details,
		Error:     &errStr,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// Print outputs the JSON response to stdout.
func (r *JSONResponse) Print() error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r)
}

// =============================================================================
// COMMAND DATA
// =============================================================================

// VersionData is returned by the version command.
type VersionData struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version,omitempty"`
}

// ModelsData is returned by the models command.
type ModelsData struct {
	Current   string      `json:"current"`
	Installed bool        `json:"installed"`
	Models    interface{} `json:"models"`
}

// IndexData is returned by index build and index stats.
type IndexData struct {
	Root         string         `json:"root"`
	Files        int            `json:"files"`
	Symbols      int            `json:"symbols"`
	TrackedFiles int            `json:"tracked_files"`
	LastIndexed  string         `json:"last_indexed,omitempty"`
	DatabaseSize int64          `json:"database_size"`
	Languages    map[string]int `json:"languages,omitempty"`
	DurationMs   int64          `json:"duration_ms,omitempty"`
}

// SymbolData is one index search result.
type SymbolData struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	File      string `json:"file"`
	Line      int    `json:"line"`
	Signature string `json:"signature,omitempty"`
}

// ActivityData is one index recent entry.
type ActivityData struct {
	Path       string `json:"path"`
	Reads      int    `json:"reads"`
	Writes     int    `json:"writes"`
	LastAccess string `json:"last_access"`
}

// DoctorData represents the data returned by the doctor command.
type DoctorData struct {
	Checks  []DoctorCheck `json:"checks"`
	Summary DoctorSummary `json:"summary"`
}

// DoctorCheck represents a single health check result.
type DoctorCheck struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "pass", "warn", "fail"
	Message string `json:"message"`
	Fix     string `json:"fix,omitempty"`
}

// DoctorSummary contains the summary of health checks.
type DoctorSummary struct {
	Passed  int  `json:"passed"`
	Warned  int  `json:"warned"`
	Failed  int  `json:"failed"`
	Healthy bool `json:"healthy"`
}

// ConfigData is returned by config show and config get.
type ConfigData struct {
	Path   string                 `json:"path,omitempty"`
	Values map[string]interface{} `json:"values"`
}
