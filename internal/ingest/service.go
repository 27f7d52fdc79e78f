package ingest

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Derkades/metrics/internal/apperr"
	"github.com/Derkades/metrics/internal/schema"
	"github.com/Derkades/metrics/internal/store"
)

// rateLimitFactor relaxes the configured submission interval so clients
// whose schedulers fire slightly early are not rejected.
const rateLimitFactor = 0.9

// Service is the ingestion reconciler: it canonicalizes the client
// identity, validates submitted fields, and applies the result to the
// store under the source's rate-limit policy.
type Service struct {
	registry *schema.Registry
	db       *store.DB
	logger   *slog.Logger

	// OnAccepted, if set, is called after each accepted submission.
	OnAccepted func(source string)
}

// NewService creates a new ingestion service.
func NewService(registry *schema.Registry, db *store.DB, logger *slog.Logger) *Service {
	return &Service{registry: registry, db: db, logger: logger}
}

// Submit processes one submission. The returned result reports the client
// id and whether this was the client's first contact. Failures are
// apperr values: ErrInvalidUUID, ErrUnknownSource, a *FieldError, or a
// *RateLimitError carrying the required wait.
func (s *Service) Submit(source, rawUUID string, fields map[string]any, now time.Time, remoteAddr string) (*store.SubmissionResult, error) {
	id, err := uuid.Parse(rawUUID)
	if err != nil {
		return nil, apperr.ErrInvalidUUID
	}

	src, ok := s.registry.Get(source)
	if !ok {
		return nil, apperr.ErrUnknownSource
	}

	values, err := ValidateFields(src.Fields, fields)
	if err != nil {
		return nil, err
	}

	minInterval := time.Duration(rateLimitFactor * float64(src.FrequencyMinutes) * float64(time.Minute))
	res, err := s.db.Reconcile(source, id.String(), now, minInterval, values)
	if err != nil {
		if errors.Is(err, apperr.ErrRateLimited) && res != nil {
			s.logger.Info("submission ignored, too soon",
				slog.String("source", source),
				slog.Int64("client_id", res.ClientID),
				slog.String("remote_addr", remoteAddr),
				slog.Float64("elapsed_minutes", res.Elapsed.Minutes()))
			return nil, &apperr.RateLimitError{
				FrequencyMinutes: src.FrequencyMinutes,
				ElapsedMinutes:   res.Elapsed.Minutes(),
			}
		}
		return nil, err
	}

	if res.FirstContact {
		s.logger.Info("received data for the first time",
			slog.String("source", source),
			slog.Int64("client_id", res.ClientID),
			slog.String("remote_addr", remoteAddr))
	} else {
		s.logger.Info("received data",
			slog.String("source", source),
			slog.Int64("client_id", res.ClientID),
			slog.String("remote_addr", remoteAddr),
			slog.Float64("elapsed_minutes", res.Elapsed.Minutes()))
	}

	if s.OnAccepted != nil {
		s.OnAccepted(source)
	}
	return res, nil
}
