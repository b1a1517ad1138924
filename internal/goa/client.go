// Package goa talks to the Gemini Observatory Archive: session auth, summary
// queries and streaming tar downloads of science and calibration files.
package goa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

var (
	// ErrBadCredentials means the archive rejected the stored login; the
	// caller should continue anonymously.
	ErrBadCredentials = errors.New("goa rejected credentials")

	// ErrConnection wraps transport-level and 5xx failures, including a
	// tripped circuit breaker.
	ErrConnection = errors.New("connection to GOA failed")

	// ErrForbidden signals a 403 on a download, typically proprietary data
	// requested without (valid) credentials.
	ErrForbidden = errors.New("goa denied access")
)

// FileInfo is one row of the archive's jsonsummary response, trimmed to the
// fields the orchestrator consumes.
type FileInfo struct {
	Name         string `json:"name"`
	Filename     string `json:"filename"`
	ReductionTag string `json:"reduction"`
	Size         int64  `json:"data_size"`
	MDReady      bool   `json:"mdready"`
}

// BaseName returns the file name without compression suffix.
func (f FileInfo) BaseName() string {
	name := f.Name
	if name == "" {
		name = f.Filename
	}
	return strings.TrimSuffix(name, ".bz2")
}

type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

func NewClient(baseURL string, logger *slog.Logger) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("goa base url is required")
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "goa",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Jar:     jar,
			Timeout: 0, // downloads stream for a long time; contexts bound them
		},
		breaker: breaker,
		logger:  logger,
	}, nil
}

// Login establishes an archive session. A rejected login returns
// ErrBadCredentials; transport failures return ErrConnection.
func (c *Client) Login(ctx context.Context, username, password string) error {
	form := url.Values{}
	form.Set("username", strings.TrimSpace(username))
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login/", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer drainClose(resp.Body)

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		return ErrBadCredentials
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: login status %d", ErrConnection, resp.StatusCode)
	}

	// The archive answers 200 with the login form again when the password is
	// wrong; a session cookie is the real success signal.
	base, _ := url.Parse(c.baseURL)
	for _, cookie := range c.http.Jar.Cookies(base) {
		if strings.Contains(strings.ToLower(cookie.Name), "session") && cookie.Value != "" {
			return nil
		}
	}
	return ErrBadCredentials
}

// Logout drops the archive session. Errors are reported but harmless.
func (c *Client) Logout(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/logout/", nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	drainClose(resp.Body)
	return nil
}

// FileList runs a jsonsummary query and returns the matching files.
func (c *Client) FileList(ctx context.Context, params QueryParams) ([]FileInfo, error) {
	u := c.baseURL + "/jsonsummary/canonical/" + strings.Join(params.Selections(), "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer drainClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: jsonsummary status %d", ErrConnection, resp.StatusCode)
	}

	var files []FileInfo
	if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
		return nil, fmt.Errorf("decode jsonsummary: %w", err)
	}
	return files, nil
}

// DownloadScience streams the science tar for params into dir. progress
// receives cumulative byte counts. Returns the extracted file basenames.
func (c *Client) DownloadScience(ctx context.Context, params QueryParams, dir string, progress func(int64)) ([]string, error) {
	u := c.baseURL + "/download/" + strings.Join(params.Selections(), "/")
	return c.downloadTar(ctx, u, dir, progress)
}

// DownloadCalibrations streams the associated-calibrations tar for a program
// into dir.
func (c *Client) DownloadCalibrations(ctx context.Context, programID string, params QueryParams, dir string, progress func(int64)) ([]string, error) {
	segments := []string{"download", "associated_calibrations", strings.TrimSpace(programID)}
	if params.ObservationID != "" {
		segments = append(segments, params.ObservationID)
	}
	u := c.baseURL + "/" + strings.Join(segments, "/")
	return c.downloadTar(ctx, u, dir, progress)
}

func (c *Client) downloadTar(ctx context.Context, u, dir string, progress func(int64)) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer drainClose(resp.Body)

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return nil, ErrForbidden
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: download status %d", ErrConnection, resp.StatusCode)
	}

	counted := &countingReader{r: resp.Body, onChange: progress}
	return ExtractTar(counted, dir)
}

// do sends the request through the circuit breaker; transport errors and 5xx
// responses count as failures.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			drainClose(resp.Body)
			return nil, fmt.Errorf("status %d", resp.StatusCode)
		}
		return resp, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open", ErrConnection)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return result.(*http.Response), nil
}

func drainClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 1<<20))
	_ = body.Close()
}
