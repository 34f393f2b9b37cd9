package chaosbag

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/serial"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/serviceerror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingQueue    = errors.New("serial queue is required")
	errMissingCampaign = errors.New("campaign id is required")

	tracer = otel.Tracer("github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/chaosbag")
)

const (
	opServiceNew = "chaosbag.service.new"
	opGet        = "chaosbag.get"
	opApply      = "chaosbag.apply"
)

// ResultsRecord persists the chaos bag of one campaign.
type ResultsRecord struct {
	CampaignID       string                      `gorm:"column:campaign_id;primaryKey;size:64;not null"`
	Version          int                         `gorm:"column:version;not null"`
	Results          datatypes.JSONType[Results] `gorm:"column:results_json;not null"`
	UpdatedAtSeconds int64                       `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ResultsRecord) TableName() string {
	return "chaos_bag_results"
}

// ServiceConfig describes the dependencies of the chaos bag service.
type ServiceConfig struct {
	Database *gorm.DB
	Queue    *serial.Queue
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service applies chaos bag actions in campaign order.
type Service struct {
	db     *gorm.DB
	queue  *serial.Queue
	clock  func() time.Time
	logger *zap.Logger
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerror.New(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Queue == nil {
		return nil, serviceerror.New(opServiceNew, "missing_queue", errMissingQueue)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, queue: cfg.Queue, clock: clock, logger: logger}, nil
}

// Get returns the campaign's chaos bag, empty at version 0 when nothing was stored.
func (s *Service) Get(ctx context.Context, campaignID string) (Results, error) {
	ctx, span := tracer.Start(ctx, opGet)
	defer span.End()

	if campaignID == "" {
		return Results{}, serviceerror.New(opGet, "missing_campaign", errMissingCampaign)
	}
	results, err := s.load(s.db.WithContext(ctx), campaignID, false)
	if err != nil {
		s.logError(opGet, "select_failed", err, zap.String("campaign_id", campaignID))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Results{}, serviceerror.New(opGet, "select_failed", err)
	}
	return results, nil
}

// ApplyRequest carries one chaos bag action. BaseVersion is the version the
// client last saw; the action is applied to the stored state regardless.
type ApplyRequest struct {
	CampaignID  string
	Action      Action
	Payload     Payload
	BaseVersion int
}

// Apply runs the action behind every earlier mutation of the same campaign and
// returns the authoritative state.
func (s *Service) Apply(ctx context.Context, request ApplyRequest) (Results, error) {
	ctx, span := tracer.Start(ctx, opApply)
	defer span.End()
	span.SetAttributes(
		attribute.String("campaign.id", request.CampaignID),
		attribute.String("chaosbag.action", string(request.Action)),
	)

	if request.CampaignID == "" {
		return Results{}, serviceerror.New(opApply, "missing_campaign", errMissingCampaign)
	}
	if _, err := ParseAction(string(request.Action)); err != nil {
		return Results{}, serviceerror.New(opApply, "unknown_action", err)
	}

	results, err := serial.Run(ctx, s.queue, request.CampaignID, func(jobCtx context.Context) (Results, error) {
		return s.applyLocked(jobCtx, request)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Results{}, err
	}
	return results, nil
}

func (s *Service) applyLocked(ctx context.Context, request ApplyRequest) (Results, error) {
	var next Results
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.load(tx, request.CampaignID, true)
		if err != nil {
			s.logError(opApply, "select_failed", err, zap.String("campaign_id", request.CampaignID))
			return serviceerror.New(opApply, "select_failed", err)
		}
		if request.BaseVersion != current.Version {
			s.logger.Debug("chaos bag action on stale version",
				zap.String("campaign_id", request.CampaignID),
				zap.Int("base_version", request.BaseVersion),
				zap.Int("current_version", current.Version))
		}

		next, err = Apply(current, request.Action, request.Payload)
		if err != nil {
			return serviceerror.New(opApply, "unknown_action", err)
		}
		record := ResultsRecord{
			CampaignID:       request.CampaignID,
			Version:          next.Version,
			Results:          datatypes.NewJSONType(next),
			UpdatedAtSeconds: s.clock().Unix(),
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&record).Error; err != nil {
			s.logError(opApply, "save_failed", err, zap.String("campaign_id", request.CampaignID))
			return serviceerror.New(opApply, "save_failed", err)
		}
		return nil
	})
	if err != nil {
		return Results{}, err
	}
	return next, nil
}

func (s *Service) load(db *gorm.DB, campaignID string, lock bool) (Results, error) {
	query := db
	if lock {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var record ResultsRecord
	err := query.Where("campaign_id = ?", campaignID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Results{Drawn: []string{}, Sealed: []SealedToken{}}, nil
	}
	if err != nil {
		return Results{}, err
	}
	results := record.Results.Data()
	results.Version = record.Version
	return results, nil
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
	s.logger.Error("chaos bag service error", attrs...)
}
