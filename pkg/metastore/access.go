package metastore

import (
	"context"
	"fmt"
)

// Grant is one group's raw permission row on a project or workspace.
// Aggregation into effective rights happens in the access package.
type Grant struct {
	Read   bool
	Write  bool
	Delete bool
}

// UserGroups returns the group IDs the user belongs to.
func UserGroups(ctx context.Context, db DBTX, userID int64) ([]int64, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT gid FROM user_to_groups WHERE uid = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user groups: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var gids []int64
	for rows.Next() {
		var gid int64
		if err := rows.Scan(&gid); err != nil {
			return nil, fmt.Errorf("scan group id: %w", err)
		}
		gids = append(gids, gid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list user groups: %w", err)
	}
	return gids, nil
}

// AddUserToGroup records group membership.
func AddUserToGroup(ctx context.Context, db DBTX, userID, groupID int64) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO user_to_groups (uid, gid) VALUES (?, ?)
		 ON CONFLICT(uid, gid) DO NOTHING`, userID, groupID)
	if err != nil {
		return fmt.Errorf("add user to group: %w", err)
	}
	return nil
}

// ProjectGrants returns the per-group grants on a private-workspace project,
// restricted to the given groups. Rows with no read permission are omitted,
// mirroring how sharing is surfaced: an unreadable share is no share.
func ProjectGrants(ctx context.Context, db DBTX, projectID string, groupIDs []int64) (map[int64]Grant, error) {
	return queryGrants(ctx, db,
		`SELECT gid, read, write, delete_right FROM project_to_groups
		 WHERE project_uuid = ? AND read = 1`, projectID, groupIDs)
}

// WorkspaceGrants returns the per-group grants on a shared workspace,
// restricted to the given groups.
func WorkspaceGrants(ctx context.Context, db DBTX, workspaceID int64, groupIDs []int64) (map[int64]Grant, error) {
	return queryGrants(ctx, db,
		`SELECT gid, read, write, delete_right FROM workspaces_access_rights
		 WHERE workspace_id = ? AND read = 1`, workspaceID, groupIDs)
}

// GrantProjectAccess stores a group grant on a private-workspace project.
func GrantProjectAccess(ctx context.Context, db DBTX, projectID string, groupID int64, g Grant) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO project_to_groups (project_uuid, gid, read, write, delete_right)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(project_uuid, gid) DO UPDATE SET
		   read = excluded.read, write = excluded.write, delete_right = excluded.delete_right`,
		projectID, groupID, g.Read, g.Write, g.Delete)
	if err != nil {
		return fmt.Errorf("grant project access: %w", err)
	}
	return nil
}

// GrantWorkspaceAccess stores a group grant on a shared workspace.
func GrantWorkspaceAccess(ctx context.Context, db DBTX, workspaceID, groupID int64, g Grant) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO workspaces_access_rights (workspace_id, gid, read, write, delete_right)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(workspace_id, gid) DO UPDATE SET
		   read = excluded.read, write = excluded.write, delete_right = excluded.delete_right`,
		workspaceID, groupID, g.Read, g.Write, g.Delete)
	if err != nil {
		return fmt.Errorf("grant workspace access: %w", err)
	}
	return nil
}

// ReadableProjectIDs returns the projects where any of the user's groups has
// read access, through either sharing path, plus projects the user owns.
func ReadableProjectIDs(ctx context.Context, db DBTX, userID int64) ([]string, error) {
	gids, err := UserGroups(ctx, db, userID)
	if err != nil {
		return nil, err
	}

	query := `SELECT DISTINCT p.uuid FROM projects p
	          LEFT JOIN project_to_groups pg
	            ON pg.project_uuid = p.uuid AND p.workspace_id IS NULL
	          LEFT JOIN workspaces_access_rights wa
	            ON wa.workspace_id = p.workspace_id AND p.workspace_id IS NOT NULL
	          WHERE p.prj_owner = ?`
	args := []any{userID}
	if len(gids) > 0 {
		placeholders := "?" + repeat(",?", len(gids)-1)
		query += ` OR (pg.read = 1 AND pg.gid IN (` + placeholders + `))`
		for _, gid := range gids {
			args = append(args, gid)
		}
		query += ` OR (wa.read = 1 AND wa.gid IN (` + placeholders + `))`
		for _, gid := range gids {
			args = append(args, gid)
		}
	}
	query += ` ORDER BY p.uuid`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list readable projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan project id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list readable projects: %w", err)
	}
	return ids, nil
}

func queryGrants(ctx context.Context, db DBTX, query string, scopeArg any, groupIDs []int64) (map[int64]Grant, error) {
	if len(groupIDs) == 0 {
		return map[int64]Grant{}, nil
	}
	query += ` AND gid IN (?` + repeat(",?", len(groupIDs)-1) + `)`
	args := []any{scopeArg}
	for _, gid := range groupIDs {
		args = append(args, gid)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	grants := make(map[int64]Grant)
	for rows.Next() {
		var gid int64
		var g Grant
		if err := rows.Scan(&gid, &g.Read, &g.Write, &g.Delete); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		grants[gid] = g
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	return grants, nil
}
