package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bt-bridge/interview-room/shared"
	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

type Language string

const (
	LanguageJavascript Language = "javascript"
	LanguagePython     Language = "python"
	LanguageJava       Language = "java"
	LanguageCpp        Language = "cpp"
	LanguageC          Language = "c"
)

var languageIDs = map[Language]int{
	LanguageJavascript: 63,
	LanguagePython:     71,
	LanguageJava:       62,
	LanguageCpp:        54,
	LanguageC:          50,
}

// ParseLanguage accepts the names used in the editor, case-insensitively.
func ParseLanguage(s string) (Language, error) {
	switch l := Language(strings.ToLower(strings.TrimSpace(s))); l {
	case "js":
		return LanguageJavascript, nil
	case "py":
		return LanguagePython, nil
	case "c++":
		return LanguageCpp, nil
	default:
		if _, ok := languageIDs[l]; ok {
			return l, nil
		}
	}
	return "", fmt.Errorf("unsupported language %q", s)
}

// Judge0 statuses 1 and 2 are "In Queue" and "Processing".
const judge0LastPendingStatus = 2

type ExecutionStatus struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
}

type ExecutionResult struct {
	Stdout        string          `json:"stdout"`
	Stderr        string          `json:"stderr"`
	CompileOutput string          `json:"compile_output"`
	Message       string          `json:"message"`
	Status        ExecutionStatus `json:"status"`
}

func (r *ExecutionResult) Pending() bool {
	return r.Status.ID <= judge0LastPendingStatus
}

// Judge0Runner runs code on a Judge0 instance and polls for the result.
type Judge0Runner struct {
	logger       shared.LoggerAdapter
	baseURL      *url.URL
	apiKey       string
	pollInterval time.Duration
	client       *fasthttp.Client
}

func NewJudge0Runner(logger shared.LoggerAdapter, baseURL, apiKey string, pollInterval time.Duration) (*Judge0Runner, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if apiKey == "" {
		return nil, errors.New("judge0 API key is not configured")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing judge0 URL: %w", err)
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Judge0Runner{
		logger:       logger.With(zap.String("component", "judge0")),
		baseURL:      u,
		apiKey:       apiKey,
		pollInterval: pollInterval,
		client:       &fasthttp.Client{ReadTimeout: 15 * time.Second, WriteTimeout: 15 * time.Second},
	}, nil
}

func (j *Judge0Runner) setHeaders(req *fasthttp.Request) {
	req.Header.Set("X-RapidAPI-Key", j.apiKey)
	req.Header.Set("X-RapidAPI-Host", j.baseURL.Host)
}

// Submit queues code for execution and returns the submission token.
func (j *Judge0Runner) Submit(ctx context.Context, code string, lang Language) (token string, err error) {
	id, ok := languageIDs[lang]
	if !ok {
		return "", fmt.Errorf("unsupported language %q", lang)
	}
	body, err := sonic.Marshal(map[string]any{
		"source_code": code,
		"language_id": id,
	})
	if err != nil {
		return "", fmt.Errorf("encoding submission: %w", err)
	}
	err = roundTrip(ctx, j.client,
		func(req *fasthttp.Request) {
			req.SetRequestURI(j.baseURL.JoinPath("submissions").String())
			req.Header.SetMethod(fasthttp.MethodPost)
			req.Header.SetContentType("application/json")
			j.setHeaders(req)
			req.SetBody(body)
		},
		func(resp *fasthttp.Response) error {
			if resp.StatusCode() != fasthttp.StatusOK && resp.StatusCode() != fasthttp.StatusCreated {
				return fmt.Errorf("submitting code: unexpected status code %d", resp.StatusCode())
			}
			var out struct {
				Token string `json:"token"`
			}
			if err := sonic.Unmarshal(resp.Body(), &out); err != nil {
				return fmt.Errorf("decoding submission: %w", err)
			}
			if out.Token == "" {
				return errors.New("submission has no token")
			}
			token = out.Token
			return nil
		},
	)
	return token, err
}

// Result fetches the current state of a submission.
func (j *Judge0Runner) Result(ctx context.Context, token string) (*ExecutionResult, error) {
	result := new(ExecutionResult)
	err := roundTrip(ctx, j.client,
		func(req *fasthttp.Request) {
			req.SetRequestURI(j.baseURL.JoinPath("submissions", token).String())
			req.Header.SetMethod(fasthttp.MethodGet)
			j.setHeaders(req)
		},
		func(resp *fasthttp.Response) error {
			if resp.StatusCode() != fasthttp.StatusOK {
				return fmt.Errorf("fetching result: unexpected status code %d", resp.StatusCode())
			}
			if err := sonic.Unmarshal(resp.Body(), result); err != nil {
				return fmt.Errorf("decoding result: %w", err)
			}
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Run submits code and polls until it leaves the queue.
func (j *Judge0Runner) Run(ctx context.Context, code string, lang Language) (*ExecutionResult, error) {
	token, err := j.Submit(ctx, code, lang)
	if err != nil {
		j.logger.Error("submitting code", err, zap.String("language", string(lang)))
		return nil, err
	}
	t := time.NewTicker(j.pollInterval)
	defer t.Stop()
	for {
		result, err := j.Result(ctx, token)
		if err != nil {
			j.logger.Error("polling submission", err, zap.String("token", token))
			return nil, err
		}
		if !result.Pending() {
			j.logger.Info("code executed",
				zap.String("language", string(lang)),
				zap.String("status", result.Status.Description),
			)
			return result, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}
