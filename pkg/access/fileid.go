package access

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidIdentifier marks a logical file identifier that fits none of the
// accepted shapes.
var ErrInvalidIdentifier = errors.New("invalid file identifier")

// IdentifierError wraps ErrInvalidIdentifier with the offending identifier and
// why it was rejected.
type IdentifierError struct {
	Identifier string
	Reason     string
}

func (e *IdentifierError) Error() string {
	return fmt.Sprintf("invalid file identifier %q: %s", e.Identifier, e.Reason)
}

func (e *IdentifierError) Unwrap() error {
	return ErrInvalidIdentifier
}

// Scope classifies where a logical file identifier points.
type Scope int

const (
	// ScopeProject is "{projectID}/{nodeID}/{path...}" with UUID identifiers.
	ScopeProject Scope = iota
	// ScopeAPI is "api/{opaqueID}/{path...}".
	ScopeAPI
	// ScopeExport is "exports/{userID}/{path...}" with a numeric user ID.
	ScopeExport
)

const (
	apiPrefix    = "api"
	exportPrefix = "exports"
)

// FileID is a parsed logical file identifier.
type FileID struct {
	Raw   string
	Scope Scope

	// ProjectID and NodeID are set for ScopeProject.
	ProjectID string
	NodeID    string

	// UserID is set for ScopeExport.
	UserID int64

	// Path is the relative path below the scoping segments.
	Path string
}

// ParseFileID validates a logical file identifier against the three accepted
// shapes. Any other shape fails with an IdentifierError wrapping
// ErrInvalidIdentifier.
func ParseFileID(raw string) (FileID, error) {
	parts := strings.Split(raw, "/")
	if len(parts) < 3 {
		return FileID{}, &IdentifierError{Identifier: raw, Reason: "expected at least three path segments"}
	}
	for _, p := range parts {
		if p == "" {
			return FileID{}, &IdentifierError{Identifier: raw, Reason: "empty path segment"}
		}
	}
	path := strings.Join(parts[2:], "/")

	switch parts[0] {
	case apiPrefix:
		return FileID{Raw: raw, Scope: ScopeAPI, Path: path}, nil

	case exportPrefix:
		userID, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || userID <= 0 {
			return FileID{}, &IdentifierError{Identifier: raw, Reason: "export user segment is not a positive integer"}
		}
		return FileID{Raw: raw, Scope: ScopeExport, UserID: userID, Path: path}, nil

	default:
		if _, err := uuid.Parse(parts[0]); err != nil {
			return FileID{}, &IdentifierError{Identifier: raw, Reason: "project segment is not a UUID"}
		}
		if _, err := uuid.Parse(parts[1]); err != nil {
			return FileID{}, &IdentifierError{Identifier: raw, Reason: "node segment is not a UUID"}
		}
		return FileID{Raw: raw, Scope: ScopeProject, ProjectID: parts[0], NodeID: parts[1], Path: path}, nil
	}
}
