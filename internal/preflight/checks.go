package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

const gatewayCheckTimeout = 5 * time.Second

// CheckGateway verifies the processing API answers and accepts the API key.
// Any response below 500 other than 401/403 counts as reachable.
func CheckGateway(ctx context.Context, baseURL, apiKey string) Result {
	const name = "Gateway"

	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return Result{Name: name, Detail: "missing base_url"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, gatewayCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, base+"/", nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("reachability check failed (%v)", err)}
	}
	if key := strings.TrimSpace(apiKey); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	client := &http.Client{Timeout: gatewayCheckTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: summarizeNetError(base, err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Result{Name: name, Detail: "auth failed (check gateway.api_key)"}
	case resp.StatusCode >= http.StatusInternalServerError:
		return Result{Name: name, Detail: fmt.Sprintf("%s answered %d", base, resp.StatusCode)}
	default:
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s reachable", base)}
	}
}

// CheckNtfyTopic verifies the notification topic is an absolute http(s) URL.
func CheckNtfyTopic(topic string) Result {
	const name = "Notifications"
	parsed, err := url.Parse(strings.TrimSpace(topic))
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return Result{Name: name, Detail: fmt.Sprintf("ntfy_topic %q is not an http(s) URL", topic)}
	}
	return Result{Name: name, Passed: true, Detail: parsed.Host + parsed.Path}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

func summarizeNetError(base string, err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("%s timed out", base)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Sprintf("%s timed out", base)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Sprintf("%s unreachable (%s)", base, opErr.Err)
	}
	return fmt.Sprintf("%s unreachable (%v)", base, err)
}
