// Package services holds the HTTP collaborators of the interview room:
// session token issuance, image upload and remote code execution.
package services

import (
	"context"
	"fmt"

	"github.com/valyala/fasthttp"
)

// TokenSource yields the bearer token used for authenticated calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource always returns the same token; used in demo mode.
type StaticTokenSource string

func (s StaticTokenSource) Token(context.Context) (string, error) {
	if s == "" {
		return "", fmt.Errorf("static token is empty")
	}
	return string(s), nil
}

// do performs req and gives up when ctx ends. The request keeps running in
// the background after a cancellation, so req and resp must not be released
// by the caller in that case.
func do(ctx context.Context, client *fasthttp.Client, req *fasthttp.Request, resp *fasthttp.Response) error {
	errC := make(chan error, 1)
	go func() {
		errC <- client.Do(req, resp)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errC:
		if err != nil {
			return fmt.Errorf("performing HTTP request: %w", err)
		}
		return nil
	}
}

// roundTrip acquires a request/response pair, lets build fill the request,
// runs it and hands the response to read. Pairs are only released once the
// request finished.
func roundTrip(ctx context.Context, client *fasthttp.Client, build func(*fasthttp.Request), read func(*fasthttp.Response) error) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	build(req)
	if err := do(ctx, client, req, resp); err != nil {
		if ctx.Err() != nil {
			return err
		}
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
		return err
	}
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)
	return read(resp)
}
