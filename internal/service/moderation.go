package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Gopher0727/FeaturedFeed/internal/model"
	"github.com/Gopher0727/FeaturedFeed/internal/repository"
	logger "github.com/Gopher0727/FeaturedFeed/middleware/log"
)

// Outcome is the result of resolving one moderator reply.
type Outcome string

const (
	OutcomeApproved        Outcome = "approved"
	OutcomeRejected        Outcome = "rejected"
	OutcomeNotFound        Outcome = "not_found"
	OutcomeInvalidDecision Outcome = "invalid_decision"
)

// Status summarizes the persisted state.
type Status struct {
	Channels int `json:"channels"`
	Messages int `json:"messages"`
	Pending  int `json:"pending"`
}

type IModerationService interface {
	Resolve(ctx context.Context, token, reply string) (Outcome, error)
	ApproveAll(ctx context.Context, callerID string) (int, error)
	Status(ctx context.Context) (Status, error)
	IsModerator(userID string) bool
}

type ModerationService struct {
	pending    repository.IPendingRepository
	messages   repository.IMessageRepository
	moderators map[string]struct{}
	log        *logger.Logger
}

func NewModerationService(
	pending repository.IPendingRepository,
	messages repository.IMessageRepository,
	moderatorIDs []string,
	log *logger.Logger,
) IModerationService {
	if log == nil {
		log = logger.NewNop()
	}
	mods := make(map[string]struct{}, len(moderatorIDs))
	for _, id := range moderatorIDs {
		mods[id] = struct{}{}
	}
	return &ModerationService{
		pending:    pending,
		messages:   messages,
		moderators: mods,
		log:        log.Named("moderation"),
	}
}

// ParseDecision accepts "y" or "n" in any case, ignoring surrounding space.
func ParseDecision(reply string) (approve bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(reply)) {
	case "y":
		return true, true
	case "n":
		return false, true
	default:
		return false, false
	}
}

func (s *ModerationService) IsModerator(userID string) bool {
	_, ok := s.moderators[userID]
	return ok
}

// Resolve applies a moderator reply to the pending entry named by token.
// Replies that are not a decision, and tokens that match nothing, are not
// errors.
func (s *ModerationService) Resolve(ctx context.Context, token, reply string) (Outcome, error) {
	approve, ok := ParseDecision(reply)
	if !ok {
		return OutcomeInvalidDecision, nil
	}
	if token == "" {
		return OutcomeNotFound, nil
	}

	entry, at, err := s.pending.Take(ctx, token)
	if errors.Is(err, model.ErrNotFound) {
		s.log.DebugContext(ctx, "reply to unknown pending entry", zap.String("record_id", token))
		return OutcomeNotFound, nil
	}
	if err != nil {
		return "", err
	}

	if !approve {
		s.log.InfoContext(ctx, "record rejected", zap.String("record_id", token))
		return OutcomeRejected, nil
	}

	// the entry is already gone from the queue: finish the approval even if
	// the caller is cancelled, or the record would be lost
	ctx = context.WithoutCancel(ctx)
	if err := s.messages.Commit(ctx, entry.Record); err != nil {
		if errors.Is(err, model.ErrExternalUnavailable) {
			// put it back where it was so the moderator can retry
			if reErr := s.pending.Restore(ctx, entry, at); reErr != nil {
				s.log.ErrorContext(ctx, "restore pending entry", zap.String("record_id", token), zap.Error(reErr))
			}
			return "", err
		}
		// invalid records are dropped; the entry stays resolved
		s.log.WarnContext(ctx, "approved record dropped", zap.String("record_id", token), zap.Error(err))
		return OutcomeApproved, err
	}
	s.log.InfoContext(ctx, "record approved", zap.String("record_id", token))
	return OutcomeApproved, nil
}

// ApproveAll commits every pending entry in queue order and then clears them
// from the queue with a single save. It returns the number of entries resolved.
func (s *ModerationService) ApproveAll(ctx context.Context, callerID string) (int, error) {
	if !s.IsModerator(callerID) {
		return 0, fmt.Errorf("approveall by %s: %w", callerID, model.ErrPermissionDenied)
	}

	entries, err := s.pending.List(ctx)
	if err != nil {
		return 0, err
	}

	resolved := make([]string, 0, len(entries))
	for _, entry := range entries {
		err := s.messages.Commit(ctx, entry.Record)
		switch {
		case err == nil:
		case errors.Is(err, model.ErrInvalidRecord):
			s.log.WarnContext(ctx, "approved record dropped", zap.String("record_id", entry.MessageID), zap.Error(err))
		default:
			// keep the queue consistent with what reached the feed
			if rmErr := s.pending.Remove(context.WithoutCancel(ctx), resolved...); rmErr != nil {
				s.log.ErrorContext(ctx, "clear approved entries", zap.Error(rmErr))
			}
			return len(resolved), err
		}
		resolved = append(resolved, entry.MessageID)
	}

	if err := s.pending.Remove(context.WithoutCancel(ctx), resolved...); err != nil {
		return len(resolved), err
	}
	s.log.InfoContext(ctx, "approved all pending records", zap.Int("count", len(resolved)), zap.String("caller_id", callerID))
	return len(resolved), nil
}

func (s *ModerationService) Status(ctx context.Context) (Status, error) {
	feed, err := s.messages.Snapshot(ctx)
	if err != nil {
		return Status{}, err
	}
	pending, err := s.pending.Count(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{Channels: feed.Len(), Messages: feed.Total(), Pending: pending}, nil
}
