package metastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// OutputRef is a node output pointer into storage: which store holds the data
// and the object path inside it.
type OutputRef struct {
	Store string `json:"store"`
	Path  string `json:"path"`
}

// Node is one workbench entry of a project.
type Node struct {
	Label   string               `json:"label"`
	Outputs map[string]OutputRef `json:"outputs,omitempty"`
}

// Project is a row of the projects table. Workbench holds the node graph
// whose output pointers are rewritten during a project data clone.
type Project struct {
	UUID  string
	Name  string
	Owner int64

	// HasWorkspace distinguishes private projects (grants come from
	// project_to_groups) from shared-workspace projects (grants come from
	// workspaces_access_rights).
	WorkspaceID  int64
	HasWorkspace bool

	Workbench map[string]Node
}

// InsertProject creates or replaces a project row.
func InsertProject(ctx context.Context, db DBTX, p Project) error {
	workbench, err := json.Marshal(p.Workbench)
	if err != nil {
		return fmt.Errorf("encode workbench: %w", err)
	}
	var workspace any
	if p.HasWorkspace {
		workspace = p.WorkspaceID
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO projects (uuid, name, prj_owner, workspace_id, workbench)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(uuid) DO UPDATE SET
		   name = excluded.name,
		   prj_owner = excluded.prj_owner,
		   workspace_id = excluded.workspace_id,
		   workbench = excluded.workbench`,
		p.UUID, p.Name, p.Owner, workspace, string(workbench))
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

// GetProject returns a project row, or nil when none exists.
func GetProject(ctx context.Context, db DBTX, projectID string) (*Project, error) {
	var p Project
	var workspace sql.NullInt64
	var owner sql.NullInt64
	var workbench string

	err := db.QueryRowContext(ctx,
		`SELECT uuid, name, prj_owner, workspace_id, workbench
		 FROM projects WHERE uuid = ?`, projectID).
		Scan(&p.UUID, &p.Name, &owner, &workspace, &workbench)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}

	p.Owner = owner.Int64
	p.WorkspaceID = workspace.Int64
	p.HasWorkspace = workspace.Valid
	if err := json.Unmarshal([]byte(workbench), &p.Workbench); err != nil {
		return nil, fmt.Errorf("decode workbench: %w", err)
	}
	return &p, nil
}

// UpdateWorkbench replaces a project's node graph, used after a clone has
// rewritten output pointers.
func UpdateWorkbench(ctx context.Context, db DBTX, projectID string, workbench map[string]Node) error {
	encoded, err := json.Marshal(workbench)
	if err != nil {
		return fmt.Errorf("encode workbench: %w", err)
	}
	res, err := db.ExecContext(ctx,
		`UPDATE projects SET workbench = ? WHERE uuid = ?`, string(encoded), projectID)
	if err != nil {
		return fmt.Errorf("update workbench: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update workbench: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update workbench: %s: no such project", projectID)
	}
	return nil
}
