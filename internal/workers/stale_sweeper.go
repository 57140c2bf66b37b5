package workers

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/voicelab/internal/metrics"
	"github.com/yoockh/voicelab/internal/repositories/sqldb"
)

const staleMessage = "abandoned before completion"

// StaleSweeper marks records that stayed pending or transcribing for longer
// than After as error. Streams whose client went away end up here.
type StaleSweeper struct {
	Records  sqldb.VoiceRecordRepository
	Schedule string
	After    time.Duration

	Logger  *logrus.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time

	c *cron.Cron
}

func (s *StaleSweeper) Start() error {
	if s.Records == nil {
		return errors.New("StaleSweeper missing dependency: Records must be set")
	}
	if s.Schedule == "" {
		s.Schedule = "@every 10m"
	}
	if s.After <= 0 {
		s.After = time.Hour
	}
	if s.Logger == nil {
		s.Logger = logrus.New()
	}

	s.c = cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	if _, err := s.c.AddFunc(s.Schedule, func() { _, _ = s.Sweep(context.Background()) }); err != nil {
		return err
	}
	s.c.Start()
	return nil
}

func (s *StaleSweeper) Stop() {
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
}

func (s *StaleSweeper) Sweep(ctx context.Context) (int64, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	after := s.After
	if after <= 0 {
		after = time.Hour
	}
	cutoff := now().UTC().Add(-after)

	n, err := s.Records.MarkStale(ctx, cutoff, staleMessage)
	log := s.logger().WithField("cutoff", cutoff)
	if err != nil {
		log.WithError(err).Error("stale sweep failed")
		return 0, err
	}
	s.Metrics.StaleRecords(n)
	if n > 0 {
		log.WithField("records", n).Warn("marked stale records as error")
	}
	return n, nil
}

func (s *StaleSweeper) logger() *logrus.Logger {
	if s.Logger == nil {
		return logrus.StandardLogger()
	}
	return s.Logger
}
