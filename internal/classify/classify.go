// Package classify atribui uma categoria de manutenção a um chamado.
package classify

import (
	"context"
	"errors"
)

// ErrUnknownCategory indica rótulo fora do catálogo configurado.
var ErrUnknownCategory = errors.New("categoria fora do catálogo")

// Input reúne o que o classificador pode analisar.
type Input struct {
	Description string
	Image       []byte
	ImageType   string
	Categories  []string
}

// Prediction é o rótulo devolvido por um classificador; Confidence pode ser desconhecida.
type Prediction struct {
	Category   string
	Confidence *float64
}

// Classifier é um adaptador externo de classificação.
type Classifier interface {
	Classify(ctx context.Context, in Input) (Prediction, error)
}

// ClassifierFunc adapta uma função à interface Classifier.
type ClassifierFunc func(ctx context.Context, in Input) (Prediction, error)

// Classify implementa Classifier.
func (f ClassifierFunc) Classify(ctx context.Context, in Input) (Prediction, error) {
	return f(ctx, in)
}

// Strategy indica qual etapa da cadeia produziu o resultado.
type Strategy string

const (
	StrategyPrimary   Strategy = "primary"
	StrategySecondary Strategy = "secondary"
	StrategyDefault   Strategy = "default"
)

// Result é o resultado final da cadeia. Nunca representa erro.
type Result struct {
	Category    string
	Confidence  *float64
	Strategy    Strategy
	NeedsReview bool
}
