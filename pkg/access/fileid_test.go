package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	projUUID = "7a3c8b1e-0f5d-4e2a-9c6b-d41f8e7a2b90"
	nodeUUID = "1b2d3f4a-5c6e-4789-8a9b-0c1d2e3f4a5b"
)

func TestParseFileID(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want FileID
	}{
		{
			name: "project scoped",
			raw:  projUUID + "/" + nodeUUID + "/outputs/result.dat",
			want: FileID{
				Scope:     ScopeProject,
				ProjectID: projUUID,
				NodeID:    nodeUUID,
				Path:      "outputs/result.dat",
			},
		},
		{
			name: "project scoped single path segment",
			raw:  projUUID + "/" + nodeUUID + "/result.dat",
			want: FileID{
				Scope:     ScopeProject,
				ProjectID: projUUID,
				NodeID:    nodeUUID,
				Path:      "result.dat",
			},
		},
		{
			name: "api scoped",
			raw:  "api/some-opaque-id/dataset.zip",
			want: FileID{Scope: ScopeAPI, Path: "dataset.zip"},
		},
		{
			name: "export scoped",
			raw:  "exports/42/archive.zip",
			want: FileID{Scope: ScopeExport, UserID: 42, Path: "archive.zip"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFileID(tt.raw)
			require.NoError(t, err)
			tt.want.Raw = tt.raw
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFileIDRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"too few segments", projUUID + "/file.dat"},
		{"empty segment", projUUID + "//file.dat"},
		{"trailing slash", projUUID + "/" + nodeUUID + "/dir/"},
		{"project not a uuid", "not-a-uuid/" + nodeUUID + "/f.dat"},
		{"node not a uuid", projUUID + "/not-a-uuid/f.dat"},
		{"export user not numeric", "exports/alice/archive.zip"},
		{"export user negative", "exports/-3/archive.zip"},
		{"export user zero", "exports/0/archive.zip"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFileID(tt.raw)
			require.ErrorIs(t, err, ErrInvalidIdentifier)

			var idErr *IdentifierError
			require.ErrorAs(t, err, &idErr)
			assert.Equal(t, tt.raw, idErr.Identifier)
			assert.NotEmpty(t, idErr.Reason)
		})
	}
}
