package dsm

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lakefront/depot/pkg/metastore"
	"github.com/lakefront/depot/pkg/objstore"
)

// CloneProjectData copies every object of a source project into a destination
// project, renaming node directories through nodeMap (source node ID →
// destination node ID) and rewriting the destination workbench's output
// pointers so the cloned tree only references itself.
//
// Authorization is dual: the source must be readable and the destination
// writable by the user. The destination prefix must be empty; the whole call
// fails with ErrDestinationNotEmpty otherwise. Source nodes absent from
// nodeMap keep their identifier.
//
// After the copy, the destination prefix is re-listed and a metadata record is
// upserted per landed object, so the clone is immediately queryable without
// trusting the per-copy bookkeeping.
func (m *Manager) CloneProjectData(ctx context.Context, userID int64, srcProjectID, dstProjectID string, nodeMap map[string]string, progress objstore.ProgressFunc) error {
	const op = "CloneProjectData"

	srcRights, err := m.resolver.ProjectRights(ctx, userID, srcProjectID)
	if err != nil {
		return opError(op, srcProjectID, err)
	}
	if !srcRights.Read {
		return denied(op, srcProjectID, userID)
	}
	dstRights, err := m.resolver.ProjectRights(ctx, userID, dstProjectID)
	if err != nil {
		return opError(op, dstProjectID, err)
	}
	if !dstRights.Write {
		return denied(op, dstProjectID, userID)
	}

	srcPrefix := srcProjectID + "/"
	dstPrefix := dstProjectID + "/"

	mapKey := func(srcKey string) (string, bool) {
		rest := strings.TrimPrefix(srcKey, srcPrefix)
		nodeID, tail, found := strings.Cut(rest, "/")
		if !found {
			// Objects directly under the project prefix have no node scope.
			return dstPrefix + rest, true
		}
		if mapped, ok := nodeMap[nodeID]; ok {
			nodeID = mapped
		}
		return dstPrefix + nodeID + "/" + tail, true
	}

	started := time.Now()
	if err := m.store.CopyRecursiveMapped(ctx, srcPrefix, dstPrefix, mapKey, progress); err != nil {
		return opError(op, srcProjectID, err)
	}

	if err := m.rewriteWorkbench(ctx, srcProjectID, dstProjectID, nodeMap); err != nil {
		return opError(op, dstProjectID, err)
	}

	count, err := m.indexClonedObjects(ctx, userID, dstProjectID, dstPrefix)
	if err != nil {
		return opError(op, dstProjectID, err)
	}

	m.invalidateSizeCache(dstPrefix)
	m.logger.Info("cloned project data",
		zap.String("src_project_id", srcProjectID),
		zap.String("dst_project_id", dstProjectID),
		zap.Int("objects", count),
		zap.Duration("elapsed", time.Since(started)))
	return nil
}

// rewriteWorkbench points the destination project's node outputs at the
// cloned objects instead of the source project's.
func (m *Manager) rewriteWorkbench(ctx context.Context, srcProjectID, dstProjectID string, nodeMap map[string]string) error {
	project, err := metastore.GetProject(ctx, m.meta.DB(), dstProjectID)
	if err != nil {
		return err
	}
	if project == nil || len(project.Workbench) == 0 {
		return nil
	}

	srcPrefix := srcProjectID + "/"
	changed := false
	for nodeID, node := range project.Workbench {
		for port, ref := range node.Outputs {
			if !strings.HasPrefix(ref.Path, srcPrefix) {
				continue
			}
			rest := strings.TrimPrefix(ref.Path, srcPrefix)
			oldNode, tail, found := strings.Cut(rest, "/")
			newNode := oldNode
			if mapped, ok := nodeMap[oldNode]; ok {
				newNode = mapped
			}
			if found {
				ref.Path = dstProjectID + "/" + newNode + "/" + tail
			} else {
				ref.Path = dstProjectID + "/" + rest
			}
			node.Outputs[port] = ref
			changed = true
		}
		project.Workbench[nodeID] = node
	}

	if !changed {
		return nil
	}
	return metastore.UpdateWorkbench(ctx, m.meta.DB(), dstProjectID, project.Workbench)
}

// indexClonedObjects lists what actually landed under the destination prefix
// and upserts one record per object.
func (m *Manager) indexClonedObjects(ctx context.Context, userID int64, dstProjectID, dstPrefix string) (int, error) {
	bucket := m.store.Bucket()
	count := 0
	err := m.meta.WithTx(ctx, func(tx metastore.DBTX) error {
		return m.store.ForEachObject(ctx, dstPrefix, func(obj objstore.ObjectMetadata) error {
			rest := strings.TrimPrefix(obj.Key, dstPrefix)
			nodeID, _, _ := strings.Cut(rest, "/")
			rec := metastore.FileRecord{
				FileID:         obj.Key,
				Bucket:         bucket,
				ObjectKey:      obj.Key,
				UserID:         userID,
				ProjectID:      dstProjectID,
				NodeID:         nodeID,
				SizeBytes:      obj.Size,
				SHA256Checksum: obj.SHA256Checksum,
				EntityTag:      obj.ETag,
				LastModified:   obj.LastModified,
			}
			if err := metastore.InsertFile(ctx, tx, rec); err != nil {
				return err
			}
			count++
			return nil
		})
	})
	return count, err
}
