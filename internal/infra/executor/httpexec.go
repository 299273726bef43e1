package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"twingate/internal/domain"
)

// HTTPExecutor proxies a tool call as a single POST of the parameter
// JSON. It is deliberately the simplest backend and the fallback for
// every locator without a recognized scheme prefix. No retries; the
// shared client timeout is the only deadline.
type HTTPExecutor struct {
	client *http.Client
	logger *zap.Logger
}

func NewHTTPExecutor(timeout time.Duration, logger *zap.Logger) *HTTPExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPExecutor{
		client: &http.Client{Timeout: timeout},
		logger: logger.Named("http_executor"),
	}
}

// Invoke POSTs params to baseURL joined with endpoint. A 2xx response
// body is the tool result, passed through verbatim.
func (e *HTTPExecutor) Invoke(ctx context.Context, baseURL, endpoint string, params json.RawMessage) (string, error) {
	url := strings.TrimSuffix(baseURL, "/") + "/" + strings.TrimPrefix(endpoint, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(params))
	if err != nil {
		return "", domain.E(domain.CodeInternal, "executor.http", fmt.Sprintf("build request for %s", url), err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return "", domain.E(domain.CodeTimeout, "executor.http", fmt.Sprintf("request to %s timed out", url), err)
		}
		return "", domain.E(domain.CodeBackendUnreachable, "executor.http", fmt.Sprintf("request to %s failed", url), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", domain.E(domain.CodeBackendUnreachable, "executor.http", "read response body", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", domain.E(domain.CodeBackendRejected, "executor.http",
			fmt.Sprintf("plugin returned %d: %s", resp.StatusCode, string(body)), nil)
	}
	return string(body), nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
