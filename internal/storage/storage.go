// Package storage guarda as fotos dos chamados em um bucket compatível com S3.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrEmptyImage indica upload sem conteúdo.
	ErrEmptyImage = errors.New("storage: imagem vazia")
	// ErrUnsupportedImage indica formato fora de jpeg/png/webp.
	ErrUnsupportedImage = errors.New("storage: formato de imagem não suportado")
	// ErrImageTooLarge indica imagem acima do limite configurado.
	ErrImageTooLarge = errors.New("storage: imagem excede o limite")
	// ErrNotConfigured é devolvido pelo NoopUploader.
	ErrNotConfigured = errors.New("storage: uploader não configurado")
)

// UploadInput representa um objeto a ser gravado.
type UploadInput struct {
	Key          string
	Body         []byte
	ContentType  string
	CacheControl string
}

// UploadResult descreve o artefato persistido.
type UploadResult struct {
	URL  string
	ETag string
}

// Uploader define comportamento básico para armazenar blobs.
type Uploader interface {
	Upload(ctx context.Context, input UploadInput) (*UploadResult, error)
}

var imageExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
}

// DetectImage identifica o tipo pelo conteúdo e valida tamanho máximo.
func DetectImage(body []byte, maxBytes int64) (contentType, ext string, err error) {
	if len(body) == 0 {
		return "", "", ErrEmptyImage
	}
	if maxBytes > 0 && int64(len(body)) > maxBytes {
		return "", "", ErrImageTooLarge
	}
	contentType = http.DetectContentType(body)
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	ext, ok := imageExtensions[contentType]
	if !ok {
		return "", "", ErrUnsupportedImage
	}
	return contentType, ext, nil
}

// ImageKey monta a chave do objeto: issues/AAAA/MM/<id>.<ext>.
func ImageKey(at time.Time, id uuid.UUID, ext string) string {
	at = at.UTC()
	return fmt.Sprintf("issues/%04d/%02d/%s.%s", at.Year(), int(at.Month()), id, ext)
}
