package store

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"fleettrack/internal/geo"
	"fleettrack/internal/models"
	"fleettrack/internal/wsproto"
)

// Service wraps the repositories with write retries and the retention
// expiry loop. WriteSample must have returned before the producer may be
// acknowledged.
type Service struct {
	samples   SampleRepository
	telemetry TelemetryRepository

	maxAttempts    int
	initialBackoff time.Duration

	sampleRetention    time.Duration
	telemetryRetention time.Duration

	log *logrus.Entry
}

type Options struct {
	WriteMaxAttempts   int
	InitialBackoff     time.Duration
	SampleRetention    time.Duration
	TelemetryRetention time.Duration
}

func NewService(samples SampleRepository, telemetry TelemetryRepository, opts Options) *Service {
	if opts.WriteMaxAttempts <= 0 {
		opts.WriteMaxAttempts = 3
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 50 * time.Millisecond
	}
	return &Service{
		samples:            samples,
		telemetry:          telemetry,
		maxAttempts:        opts.WriteMaxAttempts,
		initialBackoff:     opts.InitialBackoff,
		sampleRetention:    opts.SampleRetention,
		telemetryRetention: opts.TelemetryRetention,
		log:                logrus.WithField("component", "retention_store"),
	}
}

// WriteSample persists a sample, retrying transient failures with
// exponential backoff. A failure after the last attempt surfaces as
// persist_failed.
func (s *Service) WriteSample(ctx context.Context, smp *models.LocationSample) error {
	return s.writeWithRetry(ctx, "sample", func() error {
		return s.samples.Insert(ctx, smp)
	})
}

// WriteTelemetry persists a telemetry record with the same retry policy.
func (s *Service) WriteTelemetry(ctx context.Context, rec *models.TelemetryRecord) error {
	if err := rec.Validate(); err != nil {
		return wsproto.NewError(wsproto.CodeInvalidField("category"), err.Error())
	}
	return s.writeWithRetry(ctx, "telemetry", func() error {
		return s.telemetry.Insert(ctx, rec)
	})
}

func (s *Service) writeWithRetry(ctx context.Context, kind string, insert func() error) error {
	backoff := s.initialBackoff
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = insert()
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
		if attempt < s.maxAttempts {
			s.log.WithError(err).WithFields(logrus.Fields{
				"kind":    kind,
				"attempt": attempt,
			}).Warn("Write failed, retrying.")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return wsproto.NewError(wsproto.CodePersistFailed, "write aborted: "+ctx.Err().Error())
			}
			backoff *= 2
		}
	}
	s.log.WithError(err).WithField("kind", kind).Error("Write failed permanently.")
	return wsproto.NewError(wsproto.CodePersistFailed, err.Error())
}

// Latest returns the most recent persisted sample for the vehicle, or nil
// when none exists.
func (s *Service) Latest(ctx context.Context, vehicleID string) (*models.LocationSample, error) {
	smp, err := s.samples.Latest(ctx, vehicleID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return smp, nil
}

// Range streams samples for a vehicle in ascending server time.
func (s *Service) Range(ctx context.Context, vehicleID string, from, to time.Time) ([]models.LocationSample, error) {
	return s.samples.Range(ctx, vehicleID, from, to)
}

// Nearest returns the newest in-window sample per vehicle within radiusM.
func (s *Service) Nearest(ctx context.Context, p geo.Point, radiusM float64, since time.Time) ([]models.LocationSample, error) {
	return s.samples.Nearest(ctx, p, radiusM, since)
}

// Expire removes samples and telemetry older than their retention windows.
func (s *Service) Expire(ctx context.Context) error {
	now := time.Now()
	n, err := s.samples.DeleteOlderThan(ctx, now.Add(-s.sampleRetention))
	if err != nil {
		return err
	}
	m, err := s.telemetry.DeleteOlderThan(ctx, now.Add(-s.telemetryRetention))
	if err != nil {
		return err
	}
	if n+m > 0 {
		s.log.WithFields(logrus.Fields{
			"samples":   n,
			"telemetry": m,
		}).Info("Expired records past retention.")
	}
	return nil
}

// RunExpiry drives Expire on the given interval until ctx ends.
func (s *Service) RunExpiry(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.Expire(ctx); err != nil {
				s.log.WithError(err).Error("Retention expiry pass failed.")
			}
		case <-ctx.Done():
			return
		}
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
