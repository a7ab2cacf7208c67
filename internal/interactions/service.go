package interactions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError wraps a failure with an operation.reason code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code exposes the operation.reason identifier.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "interactions.service.new"
	opApplyBatch = "interactions.apply_batch"
	opUserState  = "interactions.user_state"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// Per-mutation failure codes returned in MutationResult.Error. Everything
// except FailureStorage is a permanent rejection the client must not retry.
const (
	FailureMissingID         = "missing_id"
	FailureInvalidOp         = "invalid_op"
	FailureInvalidEntityType = "invalid_entity_type"
	FailureInvalidEntityID   = "invalid_entity_id"
	FailureUserMismatch      = "user_mismatch"
	FailureNotFound          = "not_found"
	FailureStorage           = "storage_error"
)

// RetryableFailure reports whether a per-mutation failure code may succeed on
// a later attempt.
func RetryableFailure(code string) bool {
	return code == FailureStorage
}

// TagInvalidator invalidates render caches keyed by couplet slug after
// successful interaction writes.
type TagInvalidator interface {
	Invalidate(tags ...string)
}

// ServiceConfig describes the dependencies for the interactions service.
type ServiceConfig struct {
	Database    *gorm.DB
	Clock       func() time.Time
	Logger      *zap.Logger
	Invalidator TagInvalidator
}

// Service applies interaction mutations idempotently against the relation
// tables and reads back confirmed state.
type Service struct {
	db          *gorm.DB
	clock       func() time.Time
	logger      *zap.Logger
	invalidator TagInvalidator
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:          cfg.Database,
		clock:       clock,
		logger:      logger,
		invalidator: cfg.Invalidator,
	}, nil
}

// MutationResult reports the outcome of one mutation within a batch.
type MutationResult struct {
	ID      string
	Success bool
	Error   string
}

// Event describes a successfully applied interaction, published so other
// sessions of the same user converge without polling.
type Event struct {
	CoupletID string
	UserID    string
	Op        Op
	TsMillis  int64
}

// BatchOutcome aggregates per-mutation results for one apply call.
type BatchOutcome struct {
	Results      []MutationResult
	ProcessedIDs []string
	Successful   int
	Failed       int
	Events       []Event
}

// ApplyBatch applies each mutation independently: a mutation that fails
// validation, target lookup, or storage never blocks its siblings. Applying
// an op whose effect is already present is a success, so replayed batches
// converge to the same relation state.
func (s *Service) ApplyBatch(ctx context.Context, userID string, batch []Mutation) (BatchOutcome, error) {
	if s.db == nil {
		s.logError(opApplyBatch, "missing_database", errMissingDatabase)
		return BatchOutcome{}, newServiceError(opApplyBatch, "missing_database", errMissingDatabase)
	}

	outcome := BatchOutcome{
		Results:      make([]MutationResult, 0, len(batch)),
		ProcessedIDs: make([]string, 0, len(batch)),
	}
	touchedSlugs := make(map[string]struct{})

	for _, mutation := range batch {
		result, slug := s.applyOne(ctx, userID, mutation)
		outcome.Results = append(outcome.Results, result)
		outcome.ProcessedIDs = append(outcome.ProcessedIDs, mutation.ID)
		if !result.Success {
			outcome.Failed++
			continue
		}
		outcome.Successful++
		if slug != "" {
			touchedSlugs[slug] = struct{}{}
		}
		key, err := NewEntityKey(mutation.EntityID)
		if err == nil {
			outcome.Events = append(outcome.Events, Event{
				CoupletID: key.CoupletID(),
				UserID:    key.UserID(),
				Op:        mutation.Op,
				TsMillis:  mutation.TsMillis,
			})
		}
	}

	if s.invalidator != nil && len(touchedSlugs) > 0 {
		tags := make([]string, 0, len(touchedSlugs))
		for slug := range touchedSlugs {
			tags = append(tags, slug)
		}
		s.invalidator.Invalidate(tags...)
	}

	return outcome, nil
}

func (s *Service) applyOne(ctx context.Context, userID string, mutation Mutation) (MutationResult, string) {
	if mutation.ID == "" {
		return MutationResult{ID: mutation.ID, Error: FailureMissingID}, ""
	}
	if _, err := ParseOp(string(mutation.Op)); err != nil {
		return MutationResult{ID: mutation.ID, Error: FailureInvalidOp}, ""
	}
	if _, err := ParseEntityType(string(mutation.EntityType)); err != nil {
		return MutationResult{ID: mutation.ID, Error: FailureInvalidEntityType}, ""
	}
	key, err := NewEntityKey(mutation.EntityID)
	if err != nil {
		return MutationResult{ID: mutation.ID, Error: FailureInvalidEntityID}, ""
	}
	if key.UserID() != userID {
		return MutationResult{ID: mutation.ID, Error: FailureUserMismatch}, ""
	}

	var couplet Couplet
	err = s.db.WithContext(ctx).
		Where("couplet_id = ?", key.CoupletID()).
		Take(&couplet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return MutationResult{ID: mutation.ID, Error: FailureNotFound}, ""
	}
	if err != nil {
		s.logError(opApplyBatch, "couplet_select_failed", err,
			zap.String("couplet_id", key.CoupletID()),
			zap.String("user_id", key.UserID()))
		return MutationResult{ID: mutation.ID, Error: FailureStorage}, ""
	}

	if err := s.applyRelation(ctx, mutation.Op, key); err != nil {
		s.logError(opApplyBatch, "relation_apply_failed", err,
			zap.String("couplet_id", key.CoupletID()),
			zap.String("user_id", key.UserID()),
			zap.String("op", string(mutation.Op)))
		return MutationResult{ID: mutation.ID, Error: FailureStorage}, ""
	}

	return MutationResult{ID: mutation.ID, Success: true}, couplet.Slug
}

// applyRelation performs the check-then-act step. The relation tables are
// keyed by (entity_id, entity_type, user_id), so a duplicate add and a
// missing-row delete are both no-op successes.
func (s *Service) applyRelation(ctx context.Context, op Op, key EntityKey) error {
	db := s.db.WithContext(ctx)
	condition := db.Where(
		"entity_id = ? AND entity_type = ? AND user_id = ?",
		key.CoupletID(), string(EntityTypeCouplet), key.UserID(),
	)

	switch op.Relation() {
	case RelationLike:
		var existing LikeRecord
		err := condition.Take(&existing).Error
		present := err == nil
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if op.Adds() {
			if present {
				return nil
			}
			return db.Create(&LikeRecord{
				EntityID:         key.CoupletID(),
				EntityType:       string(EntityTypeCouplet),
				UserID:           key.UserID(),
				CreatedAtSeconds: s.clock().UTC().Unix(),
			}).Error
		}
		if !present {
			return nil
		}
		return db.Delete(&existing).Error
	default:
		var existing BookmarkRecord
		err := condition.Take(&existing).Error
		present := err == nil
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if op.Adds() {
			if present {
				return nil
			}
			return db.Create(&BookmarkRecord{
				EntityID:         key.CoupletID(),
				EntityType:       string(EntityTypeCouplet),
				UserID:           key.UserID(),
				CreatedAtSeconds: s.clock().UTC().Unix(),
			}).Error
		}
		if !present {
			return nil
		}
		return db.Delete(&existing).Error
	}
}

// UserState is the confirmed interaction state for one user: the pending
// queue overlays this on the client.
type UserState struct {
	LikedCoupletIDs      []string
	BookmarkedCoupletIDs []string
	LikeCounts           map[string]int64
}

// GetUserState returns the user's confirmed likes and bookmarks along with
// total like counts for the couplets involved.
func (s *Service) GetUserState(ctx context.Context, userID string) (UserState, error) {
	if s.db == nil {
		s.logError(opUserState, "missing_database", errMissingDatabase)
		return UserState{}, newServiceError(opUserState, "missing_database", errMissingDatabase)
	}

	db := s.db.WithContext(ctx)
	state := UserState{LikeCounts: make(map[string]int64)}

	var likes []LikeRecord
	if err := db.Where("user_id = ?", userID).
		Order("created_at_s ASC").
		Find(&likes).Error; err != nil {
		s.logError(opUserState, "likes_query_failed", err, zap.String("user_id", userID))
		return UserState{}, newServiceError(opUserState, "likes_query_failed", err)
	}
	for _, record := range likes {
		state.LikedCoupletIDs = append(state.LikedCoupletIDs, record.EntityID)
	}

	var bookmarks []BookmarkRecord
	if err := db.Where("user_id = ?", userID).
		Order("created_at_s ASC").
		Find(&bookmarks).Error; err != nil {
		s.logError(opUserState, "bookmarks_query_failed", err, zap.String("user_id", userID))
		return UserState{}, newServiceError(opUserState, "bookmarks_query_failed", err)
	}
	for _, record := range bookmarks {
		state.BookmarkedCoupletIDs = append(state.BookmarkedCoupletIDs, record.EntityID)
	}

	involved := make(map[string]struct{})
	for _, id := range state.LikedCoupletIDs {
		involved[id] = struct{}{}
	}
	for _, id := range state.BookmarkedCoupletIDs {
		involved[id] = struct{}{}
	}
	if len(involved) == 0 {
		return state, nil
	}

	ids := make([]string, 0, len(involved))
	for id := range involved {
		ids = append(ids, id)
	}
	type countRow struct {
		EntityID string `gorm:"column:entity_id"`
		Count    int64  `gorm:"column:count"`
	}
	var rows []countRow
	if err := db.Model(&LikeRecord{}).
		Select("entity_id, count(*) as count").
		Where("entity_id IN ?", ids).
		Group("entity_id").
		Scan(&rows).Error; err != nil {
		s.logError(opUserState, "counts_query_failed", err, zap.String("user_id", userID))
		return UserState{}, newServiceError(opUserState, "counts_query_failed", err)
	}
	for _, row := range rows {
		state.LikeCounts[row.EntityID] = row.Count
	}

	return state, nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("interactions service error", attrs...)
}
