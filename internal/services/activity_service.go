package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/merchantdesk/api/internal/domain"
	"github.com/merchantdesk/api/internal/repositories"
)

const activityIDPrefix = "act_"

// ActivityServiceDeps bundles the collaborators required to construct an activity service.
type ActivityServiceDeps struct {
	Records     repositories.ActivityRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type activityService struct {
	records repositories.ActivityRepository
	clock   func() time.Time
	newID   func() string
	logger  func(context.Context, string, map[string]any)
}

var _ ActivityService = (*activityService)(nil)

// NewActivityService creates an activity log writer backed by the supplied repository.
func NewActivityService(deps ActivityServiceDeps) (ActivityService, error) {
	if deps.Records == nil {
		return nil, errors.New("activity service: repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &activityService{
		records: deps.Records,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// Record appends one activity entry. Append failures are logged but never
// bubble up, so the primary mutation flow is not interrupted by the trail.
func (s *activityService) Record(ctx context.Context, cmd ActivityCommand) {
	if s.records == nil {
		return
	}
	record := s.buildRecord(cmd)
	if record.Actor == "" || record.Action == "" {
		return
	}
	if err := s.records.Append(ctx, record); err != nil {
		s.logger(ctx, "activity.append_failed", map[string]any{
			"action": record.Action,
			"error":  err.Error(),
		})
	}
}

func (s *activityService) buildRecord(cmd ActivityCommand) domain.ActivityRecord {
	occurred := cmd.OccurredAt
	if occurred.IsZero() {
		occurred = s.clock()
	} else {
		occurred = occurred.UTC()
	}

	return domain.ActivityRecord{
		ID:         activityIDPrefix + s.newID(),
		Actor:      sanitizeActivityText(cmd.Actor, 160),
		Action:     sanitizeActivityText(cmd.Action, 120),
		EntityType: sanitizeActivityText(cmd.EntityType, 40),
		EntityID:   sanitizeActivityText(cmd.EntityID, 120),
		EntityName: sanitizeActivityText(cmd.EntityName, 200),
		Metadata:   cleanMetadata(cmd.Metadata),
		OccurredAt: occurred,
	}
}

func cleanMetadata(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return nil
	}
	result := make(map[string]any, len(metadata))
	for key, value := range metadata {
		trimmed := sanitizeActivityText(key, 80)
		if trimmed == "" {
			continue
		}
		result[trimmed] = sanitizeMetadataValue(value)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func sanitizeMetadataValue(value any) any {
	switch v := value.(type) {
	case string:
		return sanitizeActivityText(v, 512)
	case fmt.Stringer:
		return sanitizeActivityText(v.String(), 512)
	default:
		return v
	}
}

// sanitizeActivityText trims, strips control characters and caps the length.
func sanitizeActivityText(input string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}
	var builder strings.Builder
	for _, r := range input {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		builder.WriteRune(r)
		if builder.Len() >= limit {
			break
		}
	}
	return builder.String()
}
