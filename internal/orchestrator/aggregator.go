package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/geda-valentim/ingestify-to-ai/internal/common"
	"github.com/geda-valentim/ingestify-to-ai/internal/events"
	"github.com/geda-valentim/ingestify-to-ai/internal/interfaces"
	"github.com/geda-valentim/ingestify-to-ai/internal/models"
)

// checkAndTriggerMerge implements §4.J/§4.H.7: if every registered page
// child is terminal, allocate a merge_id and enqueue MERGE exactly once
// via the set-if-absent primitive on the parent's merge child slot.
func (o *Orchestrator) checkAndTriggerMerge(ctx context.Context, parentID string) error {
	allTerminal, err := o.Cache.AllPageChildrenTerminal(ctx, parentID)
	if err != nil {
		return fmt.Errorf("failed to evaluate aggregator predicate for %s: %w", parentID, err)
	}
	if !allTerminal {
		return nil
	}

	mergeID := common.NewID()
	won, err := o.Cache.SetChildIfAbsent(ctx, parentID, interfaces.ChildRoleMerge, mergeID)
	if err != nil {
		return fmt.Errorf("failed set-if-absent on merge slot for %s: %w", parentID, err)
	}
	if !won {
		// Another racing page task already won the slot and enqueued MERGE.
		return nil
	}

	mergeJob := models.NewChildJob(mergeID, "", models.JobTypeMerge, parentID, nil, o.Clock.Now())
	if parent, ferr := o.Metadata.FindJob(ctx, parentID); ferr == nil && parent != nil {
		mergeJob.UserID = parent.UserID
	}
	mergeJob.Status = models.StatusQueued
	if _, err := o.Metadata.CreateJob(ctx, mergeJob); err != nil {
		return fmt.Errorf("failed to create MERGE job row for %s: %w", parentID, err)
	}

	if err := o.Cache.PutStatus(ctx, mergeID, interfaces.StatusRecord{
		Type: string(models.JobTypeMerge), Status: string(models.StatusQueued), ParentJobID: &parentID,
	}); err != nil {
		o.Logger.Warn().Err(err).Str("merge_id", mergeID).Msg("failed to write MERGE status record")
	}

	payload, err := json.Marshal(MergePayload{MergeID: mergeID, ParentID: parentID})
	if err != nil {
		return fmt.Errorf("failed to marshal MERGE payload: %w", err)
	}

	if err := o.Queue.Enqueue(ctx, interfaces.Task{JobID: mergeID, Type: string(models.JobTypeMerge), Payload: payload}); err != nil {
		return fmt.Errorf("failed to enqueue MERGE task for %s: %w", parentID, err)
	}

	o.Logger.Info().Str("parent_id", parentID).Str("merge_id", mergeID).Msg("all page children terminal, MERGE enqueued")
	if o.Events != nil {
		o.Events.Publish(ctx, events.Event{Type: events.MergeTriggered, Payload: events.MergeTriggeredPayload{ParentID: parentID, MergeID: mergeID}})
	}
	return nil
}
