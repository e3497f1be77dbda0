package firestore

import (
	"context"
	"errors"
	"maps"
	"strings"
	"time"

	domain "github.com/merchantdesk/api/internal/domain"
	pfirestore "github.com/merchantdesk/api/internal/platform/firestore"
)

const activityCollection = "activity"

// ActivityRepository appends immutable activity entries. The back-office feed
// screens read this collection directly; the sync engine never does.
type ActivityRepository struct {
	base *pfirestore.BaseRepository[activityDocument]
}

// NewActivityRepository constructs a Firestore-backed activity repository.
func NewActivityRepository(provider *pfirestore.Provider) (*ActivityRepository, error) {
	if provider == nil {
		return nil, errors.New("activity repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[activityDocument](provider, activityCollection, nil, nil)
	return &ActivityRepository{base: base}, nil
}

// Append stores one activity record. Records are never updated or deleted.
func (r *ActivityRepository) Append(ctx context.Context, record domain.ActivityRecord) error {
	if r == nil || r.base == nil {
		return errors.New("activity repository not initialised")
	}
	recordID := strings.TrimSpace(record.ID)
	if recordID == "" {
		return errors.New("activity repository: record id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, recordID)
	if err != nil {
		return err
	}
	doc := encodeActivityDocument(record)
	if _, err := docRef.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("activity.append", err)
	}
	return nil
}

type activityDocument struct {
	Actor      string         `firestore:"actor"`
	Action     string         `firestore:"action"`
	EntityType string         `firestore:"entityType"`
	EntityID   string         `firestore:"entityId"`
	EntityName string         `firestore:"entityName,omitempty"`
	Metadata   map[string]any `firestore:"metadata,omitempty"`
	OccurredAt time.Time      `firestore:"occurredAt"`
}

func encodeActivityDocument(record domain.ActivityRecord) activityDocument {
	var metadata map[string]any
	if len(record.Metadata) > 0 {
		metadata = maps.Clone(record.Metadata)
	}
	return activityDocument{
		Actor:      strings.TrimSpace(record.Actor),
		Action:     strings.TrimSpace(record.Action),
		EntityType: strings.TrimSpace(record.EntityType),
		EntityID:   strings.TrimSpace(record.EntityID),
		EntityName: strings.TrimSpace(record.EntityName),
		Metadata:   metadata,
		OccurredAt: record.OccurredAt.UTC(),
	}
}
