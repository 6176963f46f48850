package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/toolhire/platform/postcode-service/internal/repository"
	"github.com/toolhire/platform/shared/cqrs"
	"github.com/toolhire/platform/shared/events"
	"github.com/toolhire/platform/shared/models"
	"github.com/toolhire/platform/shared/utils"
)

// ErrIncompleteLookup rejects a record without a postcode or outcome.
var ErrIncompleteLookup = errors.New("lookup record needs a postcode and an outcome")

// LookupRecorder is the write side of the lookup audit log.
type LookupRecorder interface {
	Create(ctx context.Context, rec *models.LookupRecord) error
}

// LookupCommandService appends resolved lookups to the audit log.
type LookupCommandService struct {
	repo LookupRecorder
	now  func() time.Time
}

func NewLookupCommandService(repo LookupRecorder) *LookupCommandService {
	return &LookupCommandService{repo: repo, now: time.Now}
}

func (s *LookupCommandService) RecordLookup(ctx context.Context, cmd cqrs.RecordLookupCommand) (*models.LookupRecord, error) {
	return s.record(ctx, cmd, s.now())
}

func (s *LookupCommandService) record(ctx context.Context, cmd cqrs.RecordLookupCommand, at time.Time) (*models.LookupRecord, error) {
	if cmd.Postcode == "" || cmd.Outcome == "" {
		return nil, ErrIncompleteLookup
	}
	rec := &models.LookupRecord{
		ID:                utils.GenerateID("lkp"),
		Postcode:          cmd.Postcode,
		FormattedPostcode: cmd.FormattedPostcode,
		Outcome:           cmd.Outcome,
		Area:              cmd.Area,
		Region:            cmd.Region,
		Cached:            cmd.Cached,
		CreatedAt:         at.UTC(),
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// HandlePostcodeEvent records postcode.validated and postcode.rejected
// events. Other event types are acknowledged and ignored. Returning an
// error leaves the message pending for redelivery.
func (s *LookupCommandService) HandlePostcodeEvent(ctx context.Context, event events.Event) error {
	if event.Type != events.PostcodeValidated && event.Type != events.PostcodeRejected {
		slog.Debug("ignoring event", "type", event.Type)
		return nil
	}

	var payload events.PostcodeLookupEvent
	if err := events.DecodeData(event, &payload); err != nil {
		// A payload that cannot be decoded will never succeed on redelivery.
		slog.Error("dropping undecodable postcode event", "type", event.Type, "error", err)
		return nil
	}

	at := event.Timestamp
	if at.IsZero() {
		at = s.now()
	}
	rec, err := s.record(ctx, cqrs.RecordLookupCommand{
		Postcode:          payload.Postcode,
		FormattedPostcode: payload.FormattedPostcode,
		Outcome:           payload.Outcome,
		Area:              payload.Area,
		Region:            payload.Region,
		Cached:            payload.Cached,
	}, at)
	switch {
	case errors.Is(err, repository.ErrDuplicateLookup):
		slog.Warn("lookup already recorded, skipping", "postcode", payload.Postcode)
		return nil
	case errors.Is(err, ErrIncompleteLookup):
		slog.Error("dropping incomplete postcode event", "type", event.Type)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to record %s event: %w", event.Type, err)
	}

	slog.Debug("lookup recorded", "id", rec.ID, "outcome", rec.Outcome)
	return nil
}
