package duneweaver

import (
	"errors"
	"fmt"
)

// PreExecutionAdaptive is the only pre-execution mode this bridge requests
const PreExecutionAdaptive = "adaptive"

// ErrPlaylistNotFound is returned when the table has no playlist by that name
var ErrPlaylistNotFound = errors.New("playlist not found")

// RunRequest is the body of POST /run_theta_rho
type RunRequest struct {
	FileName     string `json:"file_name"`
	PreExecution string `json:"pre_execution"`
}

// Playlist is the response of GET /get_playlist
type Playlist struct {
	Name  string   `json:"name,omitempty"`
	Files []string `json:"files"`
}

// StatusError is returned when the table answers with a non-2xx status
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}
