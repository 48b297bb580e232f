package storage

import "context"

// NoopUploader devolve erro indicando que não há backend configurado.
type NoopUploader struct{}

// Upload sempre falha; o envio do chamado é abortado.
func (NoopUploader) Upload(ctx context.Context, input UploadInput) (*UploadResult, error) {
	return nil, ErrNotConfigured
}
