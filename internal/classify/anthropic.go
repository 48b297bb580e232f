package classify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const systemPrompt = `Você classifica chamados de manutenção predial.
Responda somente com JSON no formato {"category": "<categoria>", "confidence": <número entre 0 e 1>}.
A categoria deve ser exatamente uma das opções fornecidas.`

// AnthropicClassifier consulta um modelo Claude. Com UseImage=false a foto é ignorada.
type AnthropicClassifier struct {
	client   anthropic.Client
	model    string
	useImage bool
}

// NewAnthropicClassifier cria o classificador; opts extras servem para base URL e retries.
func NewAnthropicClassifier(apiKey, model string, useImage bool, opts ...option.RequestOption) *AnthropicClassifier {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &AnthropicClassifier{
		client:   anthropic.NewClient(opts...),
		model:    model,
		useImage: useImage,
	}
}

// Classify envia descrição (e foto, quando habilitado) e interpreta a resposta JSON.
func (a *AnthropicClassifier) Classify(ctx context.Context, in Input) (Prediction, error) {
	if strings.TrimSpace(in.Description) == "" && (len(in.Image) == 0 || !a.useImage) {
		return Prediction{}, errors.New("nada para classificar")
	}

	var blocks []anthropic.ContentBlockParamUnion
	if a.useImage && len(in.Image) > 0 && in.ImageType != "" {
		blocks = append(blocks, anthropic.NewImageBlockBase64(in.ImageType, base64.StdEncoding.EncodeToString(in.Image)))
	}
	blocks = append(blocks, anthropic.NewTextBlock(buildPrompt(in)))

	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 256,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(blocks...),
		},
	})
	if err != nil {
		return Prediction{}, fmt.Errorf("anthropic: %w", err)
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			return parsePrediction(block.Text)
		}
	}
	return Prediction{}, errors.New("anthropic: resposta sem texto")
}

func buildPrompt(in Input) string {
	var b strings.Builder
	b.WriteString("Categorias possíveis: ")
	b.WriteString(strings.Join(in.Categories, ", "))
	b.WriteString("\n\nDescrição do chamado:\n")
	b.WriteString(strings.TrimSpace(in.Description))
	return b.String()
}

type predictionPayload struct {
	Category   string   `json:"category"`
	Confidence *float64 `json:"confidence"`
}

// parsePrediction aceita o JSON puro ou embrulhado em texto/cercas de código.
func parsePrediction(text string) (Prediction, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return Prediction{}, fmt.Errorf("resposta sem JSON: %q", truncate(text, 120))
	}

	var payload predictionPayload
	if err := json.Unmarshal([]byte(text[start:end+1]), &payload); err != nil {
		return Prediction{}, fmt.Errorf("resposta inválida: %w", err)
	}
	category := strings.TrimSpace(payload.Category)
	if category == "" {
		return Prediction{}, errors.New("resposta sem categoria")
	}
	return Prediction{Category: category, Confidence: payload.Confidence}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
