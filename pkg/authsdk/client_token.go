package authsdk

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aussiebroadwan/tokenkeeper/pkg/idx"
)

// maxResponseBody bounds how much of a token response is read.
const maxResponseBody = 1 << 20

// Exchange performs a single token request and parses the response into one
// of three outcomes:
//
//   - a *TokenResponse with access token and lifetime present
//   - an *OAuth2Error when the server answered > 299 with an OAuth2 error body
//   - any other error (transport failure, timeout, *StatusError,
//     ErrMalformedResponse)
//
// Exchange does not judge whether a failure is fatal; that is up to the caller.
func (c *SDKClient) Exchange(ctx context.Context, ex Exchange) (*TokenResponse, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("token request throttled: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		ex.URL,
		strings.NewReader(ex.Params.Encode()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, values := range ex.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	reqID := idx.New().String()
	req.Header.Set("X-Request-ID", reqID)

	log := c.logger().With("req_id", reqID, "grant_type", string(ex.GrantType))
	start := time.Now()

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		log.Debug("token request failed", "error", err)
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	log.Debug("token request completed",
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode > 299 {
		return nil, parseErrorResponse(resp.StatusCode, body)
	}

	return decodeTokenResponse(body)
}

func (c *SDKClient) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
