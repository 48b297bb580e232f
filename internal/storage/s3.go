package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// S3Config descreve um bucket compatível com S3 (AWS, R2, MinIO).
type S3Config struct {
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	PublicDomain string
	HTTPClient   *http.Client
}

// S3Uploader grava objetos com PUT assinado.
type S3Uploader struct {
	endpoint *url.URL
	bucket   string
	public   string
	signer   sigV4Signer
	client   *http.Client
	now      func() time.Time
}

// NewS3Uploader valida a configuração e prepara o cliente HTTP.
func NewS3Uploader(cfg S3Config) (*S3Uploader, error) {
	endpoint, err := cfg.parse()
	if err != nil {
		return nil, err
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	return &S3Uploader{
		endpoint: endpoint,
		bucket:   strings.TrimSpace(cfg.Bucket),
		public:   strings.TrimRight(strings.TrimSpace(cfg.PublicDomain), "/"),
		signer: sigV4Signer{
			accessKey: cfg.AccessKey,
			secretKey: cfg.SecretKey,
			region:    cfg.Region,
			service:   "s3",
		},
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Upload envia o objeto e devolve a URL pública quando há domínio configurado.
func (u *S3Uploader) Upload(ctx context.Context, input UploadInput) (*UploadResult, error) {
	key := strings.TrimLeft(strings.TrimSpace(input.Key), "/")
	if key == "" {
		return nil, errors.New("storage: chave do objeto obrigatória")
	}
	if len(input.Body) == 0 {
		return nil, ErrEmptyImage
	}

	objectPath := "/" + u.bucket + "/" + key
	target := *u.endpoint
	target.Path = strings.TrimRight(target.Path, "/") + objectPath

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target.String(), bytes.NewReader(input.Body))
	if err != nil {
		return nil, err
	}
	req.ContentLength = int64(len(input.Body))

	contentType := strings.TrimSpace(input.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	if cc := strings.TrimSpace(input.CacheControl); cc != "" {
		req.Header.Set("Cache-Control", cc)
	}

	sum := sha256.Sum256(input.Body)
	u.signer.sign(req, hex.EncodeToString(sum[:]), u.now())

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storage: upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("storage: upload falhou (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	location := target.String()
	if u.public != "" {
		location = u.public + "/" + pathEscape(key)
	}
	return &UploadResult{URL: location, ETag: strings.Trim(resp.Header.Get("ETag"), `"`)}, nil
}

func (cfg S3Config) parse() (*url.URL, error) {
	required := []struct{ value, name string }{
		{cfg.Endpoint, "endpoint do S3"},
		{cfg.Region, "região do S3"},
		{cfg.Bucket, "bucket do S3"},
		{cfg.AccessKey, "access key"},
		{cfg.SecretKey, "secret key"},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return nil, fmt.Errorf("storage: %s ausente", r.name)
		}
	}
	endpoint, err := url.Parse(strings.TrimSpace(cfg.Endpoint))
	if err != nil || (endpoint.Scheme != "http" && endpoint.Scheme != "https") || endpoint.Host == "" {
		return nil, errors.New("storage: endpoint deve incluir protocolo http/https")
	}
	return endpoint, nil
}
