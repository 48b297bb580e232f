package assignment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/gestaozabele/manutencao/internal/util"
)

type batchAssigner interface {
	AutoAssignAll(ctx context.Context) (BatchReport, error)
}

// Sweeper roda AutoAssignAll na agenda configurada em AUTO_ASSIGN_SCHEDULE.
type Sweeper struct {
	assigner batchAssigner
	schedule cron.Schedule
	logger   zerolog.Logger
}

// ParseSchedule aceita expressões cron de 5 campos ("*/15 * * * *") e descritores como "@hourly".
func ParseSchedule(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser.Parse(strings.TrimSpace(expr))
	if err != nil {
		return nil, fmt.Errorf("agenda de atribuição inválida %q: %w", expr, err)
	}
	return sched, nil
}

func NewSweeper(assigner batchAssigner, schedule cron.Schedule, logger zerolog.Logger) *Sweeper {
	return &Sweeper{assigner: assigner, schedule: schedule, logger: logger}
}

// Run bloqueia até ctx ser cancelado. Uma varredura com erro não encerra o laço.
func (s *Sweeper) Run(ctx context.Context) {
	for {
		now := util.Now()
		next := s.schedule.Next(now)
		s.logger.Debug().Time("next", next).Msg("próxima varredura de atribuição")

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		report, err := s.assigner.AutoAssignAll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error().Err(err).Msg("varredura de atribuição falhou")
			continue
		}
		if report.Assigned+report.Skipped+report.Failed > 0 {
			s.logger.Info().Int("assigned", report.Assigned).Int("skipped", report.Skipped).Int("failed", report.Failed).Msg("varredura de atribuição concluída")
		}
	}
}
