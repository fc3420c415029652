package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"time"

	"github.com/bt-bridge/interview-room/shared"
	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// ImageUploader posts images to the upload endpoint and returns their URL.
type ImageUploader struct {
	logger    shared.LoggerAdapter
	uploadURL string
	tokens    TokenSource
	client    *fasthttp.Client
}

// NewImageUploader builds an uploader; tokens may be nil for an
// unauthenticated endpoint.
func NewImageUploader(logger shared.LoggerAdapter, uploadURL string, tokens TokenSource) (*ImageUploader, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if uploadURL == "" {
		return nil, errors.New("upload URL is required")
	}
	return &ImageUploader{
		logger:    logger.With(zap.String("component", "image_uploader")),
		uploadURL: uploadURL,
		tokens:    tokens,
		client:    &fasthttp.Client{ReadTimeout: 30 * time.Second, WriteTimeout: 30 * time.Second},
	}, nil
}

type uploadResponse struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

func (u *ImageUploader) Upload(ctx context.Context, data []byte, filename string) (url string, err error) {
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	filePart, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("creating file part: %w", err)
	}
	if _, err = filePart.Write(data); err != nil {
		return "", fmt.Errorf("writing file part: %w", err)
	}
	if err = writer.WriteField("filename", filename); err != nil {
		return "", fmt.Errorf("writing filename field: %w", err)
	}
	if err = writer.Close(); err != nil {
		return "", fmt.Errorf("closing multipart writer: %w", err)
	}

	var token string
	if u.tokens != nil {
		if token, err = u.tokens.Token(ctx); err != nil {
			return "", fmt.Errorf("resolving upload token: %w", err)
		}
	}

	err = roundTrip(ctx, u.client,
		func(req *fasthttp.Request) {
			req.SetRequestURI(u.uploadURL)
			req.Header.SetMethod(fasthttp.MethodPost)
			req.Header.Set("Content-Type", writer.FormDataContentType())
			if token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
			req.SetBody(body.Bytes())
		},
		func(resp *fasthttp.Response) error {
			var out uploadResponse
			decodeErr := sonic.Unmarshal(resp.Body(), &out)
			if resp.StatusCode() != fasthttp.StatusOK {
				if decodeErr == nil && out.Error != "" {
					return fmt.Errorf("upload rejected: %s", out.Error)
				}
				return fmt.Errorf("unexpected status code: %d", resp.StatusCode())
			}
			if decodeErr != nil {
				return fmt.Errorf("decoding upload response: %w", decodeErr)
			}
			if out.URL == "" {
				return errors.New("upload response has no url")
			}
			url = out.URL
			return nil
		},
	)
	if err != nil {
		u.logger.Error("uploading image", err, zap.String("filename", filename))
		return "", err
	}
	u.logger.Info("image uploaded", zap.String("filename", filename))
	return url, nil
}
