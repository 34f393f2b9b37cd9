package campaigns

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/campaignlog"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/identifiers"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/serial"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/serviceerror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrCampaignNotFound indicates the campaign does not exist for the owner.
	ErrCampaignNotFound = errors.New("campaigns: campaign not found")
	// ErrUnknownGuide indicates a guide id that is not loaded.
	ErrUnknownGuide = errors.New("campaigns: unknown guide")
	// ErrInvalidCampaign indicates a request without the fields a campaign needs.
	ErrInvalidCampaign = errors.New("campaigns: invalid campaign")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingGuides     = errors.New("guide provider is required")
	errMissingQueue      = errors.New("serial queue is required")
	errMissingIDProvider = errors.New("id provider is required")

	tracer = otel.Tracer("github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/campaigns")
)

const (
	opServiceNew = "campaigns.service.new"
	opCreate     = "campaigns.create"
	opGet        = "campaigns.get"
	opList       = "campaigns.list"
	opAnswer     = "campaigns.answer"
	opRebuild    = "campaigns.rebuild"
)

// GuideProvider resolves campaign guides by id.
type GuideProvider interface {
	Guide(id string) (campaignlog.Guide, bool)
}

// ServiceConfig describes the dependencies of the campaign service.
type ServiceConfig struct {
	Database   *gorm.DB
	Guides     GuideProvider
	Queue      *serial.Queue
	IDProvider identifiers.Provider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service stores campaigns and folds answered steps into their logs.
type Service struct {
	db         *gorm.DB
	guides     GuideProvider
	queue      *serial.Queue
	idProvider identifiers.Provider
	clock      func() time.Time
	logger     *zap.Logger
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerror.New(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Guides == nil {
		return nil, serviceerror.New(opServiceNew, "missing_guides", errMissingGuides)
	}
	if cfg.Queue == nil {
		return nil, serviceerror.New(opServiceNew, "missing_queue", errMissingQueue)
	}
	if cfg.IDProvider == nil {
		return nil, serviceerror.New(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		guides:     cfg.Guides,
		queue:      cfg.Queue,
		idProvider: cfg.IDProvider,
		clock:      clock,
		logger:     logger,
	}, nil
}

// CreateRequest names the guide a new campaign follows.
type CreateRequest struct {
	Name    string `json:"name"`
	GuideID string `json:"guide_id"`
}

// Create starts a campaign with an empty log at version 0.
func (s *Service) Create(ctx context.Context, ownerID string, request CreateRequest) (Campaign, error) {
	ctx, span := tracer.Start(ctx, opCreate)
	defer span.End()

	guideID := strings.TrimSpace(request.GuideID)
	if ownerID == "" || guideID == "" {
		return Campaign{}, serviceerror.New(opCreate, "invalid_request", ErrInvalidCampaign)
	}
	if _, ok := s.guides.Guide(guideID); !ok {
		return Campaign{}, serviceerror.New(opCreate, "unknown_guide", ErrUnknownGuide)
	}
	campaignID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return Campaign{}, serviceerror.New(opCreate, "id_generation_failed", err)
	}

	now := s.clock().UTC().Truncate(time.Second)
	campaign := Campaign{
		ID:        campaignID,
		OwnerID:   ownerID,
		GuideID:   guideID,
		Name:      strings.TrimSpace(request.Name),
		Log:       campaignlog.New(),
		Answers:   []RecordedAnswer{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	record := newCampaignRecord(campaign)
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("campaign_id", campaignID))
		recordSpanError(span, err)
		return Campaign{}, serviceerror.New(opCreate, "insert_failed", err)
	}
	span.SetAttributes(attribute.String("campaign.id", campaignID))
	return campaign, nil
}

// Get returns the campaign owned by ownerID.
func (s *Service) Get(ctx context.Context, ownerID, campaignID string) (Campaign, error) {
	ctx, span := tracer.Start(ctx, opGet)
	defer span.End()

	record, err := s.load(s.db.WithContext(ctx), ownerID, campaignID, false)
	if err != nil {
		return Campaign{}, s.wrapLoadError(opGet, campaignID, err)
	}
	return record.campaign(), nil
}

// List returns the owner's campaigns, most recently updated first.
func (s *Service) List(ctx context.Context, ownerID string) ([]Campaign, error) {
	ctx, span := tracer.Start(ctx, opList)
	defer span.End()

	var records []CampaignRecord
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("updated_at_s DESC").
		Order("id ASC").
		Find(&records).Error
	if err != nil {
		s.logError(opList, "query_failed", err, zap.String("owner_id", ownerID))
		recordSpanError(span, err)
		return nil, serviceerror.New(opList, "query_failed", err)
	}
	campaigns := make([]Campaign, 0, len(records))
	for _, record := range records {
		campaigns = append(campaigns, record.campaign())
	}
	return campaigns, nil
}

// PendingStep returns the id of the step the campaign expects next, empty when
// the guide is complete or no longer loaded.
func (s *Service) PendingStep(campaign Campaign) string {
	guide, ok := s.guides.Guide(campaign.GuideID)
	if !ok {
		return ""
	}
	step, ok := guide.NextPending(campaign.Log)
	if !ok {
		return ""
	}
	return step.StepID()
}

// AnswerRequest carries a player's answer to one guide step. BaseVersion is the
// version the client last saw; the answer is applied to the stored log regardless.
type AnswerRequest struct {
	OwnerID     string
	CampaignID  string
	StepID      string
	Answer      campaignlog.Answer
	BaseVersion int
}

// StepResult is the authoritative campaign after an answer and what the engine
// did with it. The version only moves when the outcome is applied.
type StepResult struct {
	Campaign Campaign            `json:"campaign"`
	Outcome  campaignlog.Outcome `json:"outcome"`
}

// Answer applies the step answer behind every earlier mutation of the campaign.
// Steps that are not the next pending one fail with campaignlog.ErrOutOfOrder.
func (s *Service) Answer(ctx context.Context, request AnswerRequest) (StepResult, error) {
	ctx, span := tracer.Start(ctx, opAnswer)
	defer span.End()
	span.SetAttributes(
		attribute.String("campaign.id", request.CampaignID),
		attribute.String("campaign.step", request.StepID),
	)

	result, err := serial.Run(ctx, s.queue, request.CampaignID, func(jobCtx context.Context) (StepResult, error) {
		return s.answerLocked(jobCtx, request)
	})
	if err != nil {
		recordSpanError(span, err)
		return StepResult{}, err
	}
	span.SetAttributes(attribute.String("campaign.outcome", string(result.Outcome.Status)))
	return result, nil
}

func (s *Service) answerLocked(ctx context.Context, request AnswerRequest) (StepResult, error) {
	var result StepResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := s.load(tx, request.OwnerID, request.CampaignID, true)
		if err != nil {
			return s.wrapLoadError(opAnswer, request.CampaignID, err)
		}
		campaign := record.campaign()
		guide, ok := s.guides.Guide(campaign.GuideID)
		if !ok {
			return serviceerror.New(opAnswer, "unknown_guide", ErrUnknownGuide)
		}
		step, err := guide.Accepts(campaign.Log, request.StepID)
		switch {
		case errors.Is(err, campaignlog.ErrStepNotFound):
			return serviceerror.New(opAnswer, "step_not_found", err)
		case errors.Is(err, campaignlog.ErrOutOfOrder):
			return serviceerror.New(opAnswer, "out_of_order", err)
		case err != nil:
			return serviceerror.New(opAnswer, "step_rejected", err)
		}
		if request.BaseVersion != campaign.Version {
			s.logger.Debug("campaign answer on stale version",
				zap.String("campaign_id", campaign.ID),
				zap.Int("base_version", request.BaseVersion),
				zap.Int("current_version", campaign.Version))
		}

		nextLog, outcome := campaignlog.Apply(campaign.Log, step, request.Answer)
		if !outcome.Applied() {
			s.logger.Info("campaign step not applied",
				zap.String("campaign_id", campaign.ID),
				zap.String("step_id", request.StepID),
				zap.String("status", string(outcome.Status)),
				zap.String("reason", outcome.Reason))
			result = StepResult{Campaign: campaign, Outcome: outcome}
			return nil
		}

		campaign.Log = nextLog
		campaign.Answers = append(campaign.Answers, RecordedAnswer{StepID: request.StepID, Answer: request.Answer})
		campaign.Version++
		campaign.UpdatedAt = s.clock().UTC().Truncate(time.Second)
		next := newCampaignRecord(campaign)
		if err := tx.Save(&next).Error; err != nil {
			s.logError(opAnswer, "save_failed", err, zap.String("campaign_id", campaign.ID))
			return serviceerror.New(opAnswer, "save_failed", err)
		}
		result = StepResult{Campaign: campaign, Outcome: outcome}
		return nil
	})
	if err != nil {
		return StepResult{}, err
	}
	return result, nil
}

// Rebuild refolds the recorded answers against the current guide content. Answers
// that no longer apply are dropped along with everything after them.
func (s *Service) Rebuild(ctx context.Context, ownerID, campaignID string) (Campaign, error) {
	ctx, span := tracer.Start(ctx, opRebuild)
	defer span.End()

	campaign, err := serial.Run(ctx, s.queue, campaignID, func(jobCtx context.Context) (Campaign, error) {
		var rebuilt Campaign
		err := s.db.WithContext(jobCtx).Transaction(func(tx *gorm.DB) error {
			record, err := s.load(tx, ownerID, campaignID, true)
			if err != nil {
				return s.wrapLoadError(opRebuild, campaignID, err)
			}
			rebuilt = record.campaign()
			guide, ok := s.guides.Guide(rebuilt.GuideID)
			if !ok {
				return serviceerror.New(opRebuild, "unknown_guide", ErrUnknownGuide)
			}

			log, kept := Refold(guide, rebuilt.Answers)
			if len(kept) != len(rebuilt.Answers) {
				s.logger.Warn("campaign answers dropped on rebuild",
					zap.String("campaign_id", campaignID),
					zap.Int("recorded", len(rebuilt.Answers)),
					zap.Int("kept", len(kept)))
			}
			rebuilt.Log = log
			rebuilt.Answers = kept
			rebuilt.Version++
			rebuilt.UpdatedAt = s.clock().UTC().Truncate(time.Second)
			next := newCampaignRecord(rebuilt)
			if err := tx.Save(&next).Error; err != nil {
				s.logError(opRebuild, "save_failed", err, zap.String("campaign_id", campaignID))
				return serviceerror.New(opRebuild, "save_failed", err)
			}
			return nil
		})
		return rebuilt, err
	})
	if err != nil {
		recordSpanError(span, err)
		return Campaign{}, err
	}
	return campaign, nil
}

// Refold applies answers to an empty log in their recorded order and returns the
// log with the answers that were applied, stopping at the first that is not.
func Refold(guide campaignlog.Guide, answers []RecordedAnswer) (campaignlog.Log, []RecordedAnswer) {
	log := campaignlog.New()
	kept := make([]RecordedAnswer, 0, len(answers))
	for _, recorded := range answers {
		step, err := guide.Accepts(log, recorded.StepID)
		if err != nil {
			break
		}
		next, outcome := campaignlog.Apply(log, step, recorded.Answer)
		if !outcome.Applied() {
			break
		}
		log = next
		kept = append(kept, recorded)
	}
	return log, kept
}

func (s *Service) load(db *gorm.DB, ownerID, campaignID string, lock bool) (CampaignRecord, error) {
	query := db
	if lock {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var record CampaignRecord
	err := query.Where("id = ? AND owner_id = ?", campaignID, ownerID).Take(&record).Error
	return record, err
}

func (s *Service) wrapLoadError(operation, campaignID string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return serviceerror.New(operation, "not_found", ErrCampaignNotFound)
	}
	s.logError(operation, "select_failed", err, zap.String("campaign_id", campaignID))
	return serviceerror.New(operation, "select_failed", err)
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
	s.logger.Error("campaigns service error", attrs...)
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
