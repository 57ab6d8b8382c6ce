// Package access computes effective access rights of users over stored data.
//
// Two grant paths exist: a project in a private workspace is shared per group
// through project grants, a project in a shared workspace inherits the
// workspace's group grants. Rights aggregate across all of the user's groups
// with most-permissive-wins semantics, each permission bit independently.
// Project owners bypass aggregation and always hold full rights.
//
// Absence of any matching grant yields all-false rights, never an error:
// callers check the booleans explicitly.
package access

import (
	"context"

	"go.uber.org/zap"

	"github.com/lakefront/depot/pkg/metastore"
)

// Rights is the effective permission set of a user over a resource.
// Derived per request from group membership, never stored directly.
type Rights struct {
	Read   bool
	Write  bool
	Delete bool
}

// NoAccess is the zero grant.
func NoAccess() Rights {
	return Rights{}
}

// FullAccess grants every permission.
func FullAccess() Rights {
	return Rights{Read: true, Write: true, Delete: true}
}

// Resolver computes rights from the metadata store's group and grant tables.
type Resolver struct {
	db     metastore.DBTX
	logger *zap.Logger
}

// NewResolver builds a resolver over the given query scope.
func NewResolver(db metastore.DBTX, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{db: db, logger: logger}
}

// ProjectRights returns the user's effective rights over a project.
//
// A missing project and a project the user holds no grant on are
// indistinguishable by design: both yield NoAccess.
func (r *Resolver) ProjectRights(ctx context.Context, userID int64, projectID string) (Rights, error) {
	project, err := metastore.GetProject(ctx, r.db, projectID)
	if err != nil {
		return NoAccess(), err
	}
	if project == nil {
		return NoAccess(), nil
	}
	if project.Owner == userID {
		return FullAccess(), nil
	}

	groups, err := metastore.UserGroups(ctx, r.db, userID)
	if err != nil {
		return NoAccess(), err
	}

	var grants map[int64]metastore.Grant
	if project.HasWorkspace {
		grants, err = metastore.WorkspaceGrants(ctx, r.db, project.WorkspaceID, groups)
	} else {
		grants, err = metastore.ProjectGrants(ctx, r.db, projectID, groups)
	}
	if err != nil {
		return NoAccess(), err
	}

	return aggregate(grants), nil
}

// FileRights returns the user's effective rights over a logical file.
//
// With a metadata record, rights derive from direct ownership or
// transitively from the owning project. Without one (file in flight or
// already deleted), rights derive from the identifier's structural
// convention; a malformed identifier fails with an IdentifierError.
func (r *Resolver) FileRights(ctx context.Context, userID int64, fileID string) (Rights, error) {
	rec, err := metastore.GetFile(ctx, r.db, fileID)
	if err != nil {
		return NoAccess(), err
	}

	if rec != nil {
		if rec.UserID == userID {
			return FullAccess(), nil
		}
		if rec.ProjectID == "" {
			// Not the owner and not shared through a project.
			return NoAccess(), nil
		}
		rights, err := r.ProjectRights(ctx, userID, rec.ProjectID)
		if err != nil {
			return NoAccess(), err
		}
		if rights == NoAccess() {
			r.logger.Warn("file references a project with no resolvable rights",
				zap.String("file_id", fileID),
				zap.String("project_id", rec.ProjectID))
		}
		return rights, nil
	}

	parsed, err := ParseFileID(fileID)
	if err != nil {
		return NoAccess(), err
	}

	switch parsed.Scope {
	case ScopeAPI:
		// Ownership is not yet recorded: the requesting user is assumed to be
		// the owner. API flows need every permission (download, upload,
		// abort), so a partial grant would be useless here.
		return FullAccess(), nil
	case ScopeExport:
		if parsed.UserID != userID {
			return NoAccess(), nil
		}
		return FullAccess(), nil
	default:
		rights, err := r.ProjectRights(ctx, userID, parsed.ProjectID)
		if err != nil {
			return NoAccess(), err
		}
		if rights == NoAccess() {
			r.logger.Warn("file identifier references an unknown or unshared project",
				zap.String("file_id", fileID),
				zap.String("project_id", parsed.ProjectID))
		}
		return rights, nil
	}
}

// ReadableProjects lists the project IDs the user may read, for scoping
// listings and searches.
func (r *Resolver) ReadableProjects(ctx context.Context, userID int64) ([]string, error) {
	return metastore.ReadableProjectIDs(ctx, r.db, userID)
}

// aggregate folds per-group grants into effective rights by taking the
// logical OR of each permission bit across all applicable groups.
func aggregate(grants map[int64]metastore.Grant) Rights {
	var rights Rights
	for _, g := range grants {
		rights.Read = rights.Read || g.Read
		rights.Write = rights.Write || g.Write
		rights.Delete = rights.Delete || g.Delete
	}
	return rights
}
