// Package credentials talks to the auth-service internal API, which owns the
// credentials table.
package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/Venomous0511/JeepEZ/shared/middleware"
	"github.com/Venomous0511/JeepEZ/user-service/internal/reconcile"
)

// Client implements reconcile.CredentialStore over HTTP.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, internalToken string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   internalToken,
		http:    &http.Client{Timeout: timeout},
	}
}

// DeleteByID removes the credential of identity. A missing credential is
// reported as reconcile.NotFound, not as an error.
func (c *Client) DeleteByID(ctx context.Context, identity string) (reconcile.DeleteResult, error) {
	endpoint := c.baseURL + "/internal/credentials/" + url.PathEscape(identity)
	code, err := c.do(ctx, http.MethodDelete, endpoint, nil, http.StatusNoContent, http.StatusOK, http.StatusNotFound)
	if err != nil {
		return 0, err
	}
	if code == http.StatusNotFound {
		return reconcile.NotFound, nil
	}
	return reconcile.Deleted, nil
}

type issueRequest struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// Issue creates the credential of identity. An existing credential is left
// as it is.
func (c *Client) Issue(ctx context.Context, identity, email string) error {
	body, err := json.Marshal(issueRequest{UserID: identity, Email: email})
	if err != nil {
		return reconcile.Permanent(fmt.Errorf("encode credential request: %w", err))
	}
	_, err = c.do(ctx, http.MethodPost, c.baseURL+"/internal/credentials", body, http.StatusCreated, http.StatusOK)
	return err
}

// do sends one request and returns the status when it is one of expected.
// Any other response becomes a classified *StatusError.
func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, expected ...int) (int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, reconcile.Permanent(fmt.Errorf("build credential request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(middleware.InternalTokenHeader, c.token)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, reconcile.Transient(fmt.Errorf("credential store unreachable: %w", err))
	}
	defer resp.Body.Close()

	if slices.Contains(expected, resp.StatusCode) {
		return resp.StatusCode, nil
	}

	// A body cut short means the connection broke; the status alone is not trusted.
	msg, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return 0, reconcile.Transient(fmt.Errorf("read credential store response %d: %w", resp.StatusCode, err))
	}
	serr := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	if retryable(resp.StatusCode) {
		return 0, reconcile.Transient(serr)
	}
	return 0, reconcile.Permanent(serr)
}

// StatusError is an unexpected response from the credential store.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("credential store responded %d", e.Code)
	}
	return fmt.Sprintf("credential store responded %d: %s", e.Code, e.Body)
}

func retryable(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}

// StatusCode extracts the response code from err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}
