package classify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/gestaozabele/manutencao/internal/metrics"
)

// ChainConfig parametriza a cadeia de fallback.
type ChainConfig struct {
	DefaultCategory string
	Threshold       float64
	Timeout         time.Duration
	Categories      []string
}

// Chain tenta o classificador primário (foto + descrição), depois o secundário
// (só descrição) e por fim a categoria padrão.
type Chain struct {
	primary   Classifier
	secondary Classifier
	cfg       ChainConfig
	catalog   map[string]struct{}
	logger    zerolog.Logger
}

// NewChain monta a cadeia. Classificadores nil são pulados.
func NewChain(primary, secondary Classifier, cfg ChainConfig, logger zerolog.Logger) *Chain {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.7
	}
	if cfg.DefaultCategory == "" {
		cfg.DefaultCategory = "General"
	}
	catalog := make(map[string]struct{}, len(cfg.Categories))
	for _, c := range cfg.Categories {
		catalog[c] = struct{}{}
	}
	return &Chain{
		primary:   primary,
		secondary: secondary,
		cfg:       cfg,
		catalog:   catalog,
		logger:    logger,
	}
}

// Classify nunca falha: erros viram fallback com revisão obrigatória.
func (c *Chain) Classify(ctx context.Context, in Input) Result {
	in.Categories = c.cfg.Categories

	if c.primary != nil {
		pred, err := c.try(ctx, c.primary, in)
		if err == nil {
			res := Result{
				Category:    pred.Category,
				Confidence:  pred.Confidence,
				Strategy:    StrategyPrimary,
				NeedsReview: pred.Confidence == nil || *pred.Confidence < c.cfg.Threshold,
			}
			return c.done(res)
		}
		c.logger.Warn().Err(err).Msg("classificador primário falhou; usando secundário")
	}

	if c.secondary != nil {
		textOnly := in
		textOnly.Image = nil
		textOnly.ImageType = ""
		pred, err := c.try(ctx, c.secondary, textOnly)
		if err == nil {
			return c.done(Result{
				Category:    pred.Category,
				Confidence:  pred.Confidence,
				Strategy:    StrategySecondary,
				NeedsReview: true,
			})
		}
		c.logger.Warn().Err(err).Msg("classificador secundário falhou; usando categoria padrão")
	}

	return c.done(Result{
		Category:    c.cfg.DefaultCategory,
		Strategy:    StrategyDefault,
		NeedsReview: true,
	})
}

func (c *Chain) try(ctx context.Context, cl Classifier, in Input) (Prediction, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	pred, err := cl.Classify(ctx, in)
	if err != nil {
		return Prediction{}, err
	}
	if len(c.catalog) > 0 {
		if _, ok := c.catalog[pred.Category]; !ok {
			return Prediction{}, fmt.Errorf("%w: %q", ErrUnknownCategory, pred.Category)
		}
	}
	if pred.Confidence != nil && (*pred.Confidence < 0 || *pred.Confidence > 1) {
		pred.Confidence = nil
	}
	return pred, nil
}

func (c *Chain) done(res Result) Result {
	metrics.RecordClassification(string(res.Strategy), res.NeedsReview)
	ev := c.logger.Debug().Str("category", res.Category).Str("strategy", string(res.Strategy)).Bool("needs_review", res.NeedsReview)
	if res.Confidence != nil {
		ev = ev.Float64("confidence", *res.Confidence)
	}
	ev.Msg("chamado classificado")
	return res
}
