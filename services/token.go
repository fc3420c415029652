package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bt-bridge/interview-room/shared"
	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// SessionTokenSource reads the access token from the web session endpoint.
type SessionTokenSource struct {
	logger     shared.LoggerAdapter
	sessionURL string
	cookie     string
	client     *fasthttp.Client
}

var _ TokenSource = (*SessionTokenSource)(nil)

func NewSessionTokenSource(logger shared.LoggerAdapter, sessionURL, cookie string) (*SessionTokenSource, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if sessionURL == "" {
		return nil, errors.New("session URL is required")
	}
	return &SessionTokenSource{
		logger:     logger.With(zap.String("component", "session_token")),
		sessionURL: sessionURL,
		cookie:     cookie,
		client:     &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second},
	}, nil
}

type sessionResponse struct {
	AccessToken string `json:"accessToken"`
}

func (s *SessionTokenSource) Token(ctx context.Context) (token string, err error) {
	err = roundTrip(ctx, s.client,
		func(req *fasthttp.Request) {
			req.SetRequestURI(s.sessionURL)
			req.Header.SetMethod(fasthttp.MethodGet)
			req.Header.Set("Accept", "application/json")
			if s.cookie != "" {
				req.Header.Set("Cookie", s.cookie)
			}
		},
		func(resp *fasthttp.Response) error {
			if resp.StatusCode() != fasthttp.StatusOK {
				return fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode(), string(resp.Body()))
			}
			var sess sessionResponse
			if err := sonic.Unmarshal(resp.Body(), &sess); err != nil {
				return fmt.Errorf("decoding session: %w", err)
			}
			if sess.AccessToken == "" {
				return errors.New("session has no access token")
			}
			token = sess.AccessToken
			return nil
		},
	)
	if err != nil {
		s.logger.Error("resolving session token", err)
		return "", err
	}
	return token, nil
}
