package main

import (
	"context"
	"errors"
	"net"

	"imgsvc/internal/api"
)

func formatCLIError(err error) []string {
	if err == nil {
		return nil
	}

	lines := []string{err.Error()}

	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case "resource_exhausted":
			lines = append(lines, "hint: another sweep is running; retry shortly.")
		case "not_implemented":
			lines = append(lines, "hint: the configured object backend does not support this operation.")
		case "unavailable":
			lines = append(lines, "hint: the request was cancelled or timed out on the server; retry or increase IMGSVC_HTTP_TIMEOUT.")
		}
		if apiErr.Code == "" {
			lines = append(lines, "hint: verify IMGSVC_API_URL points to an imgsvc server.")
		}
		if apiErr.Status >= 500 && apiErr.Status != 501 && apiErr.Status != 503 {
			lines = append(lines, "hint: server returned an internal error; check server logs for details.")
		}
		return uniqueLines(lines)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		lines = append(lines, "hint: request timed out; check server health or increase IMGSVC_HTTP_TIMEOUT.")
		return uniqueLines(lines)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		lines = append(lines,
			"hint: ensure an imgsvc server is running at IMGSVC_API_URL.",
			"hint: start local server manually with: imgsvc srv",
			"hint: you can increase IMGSVC_HTTP_TIMEOUT for slower environments.",
		)
		return uniqueLines(lines)
	}

	return uniqueLines(lines)
}

func uniqueLines(lines []string) []string {
	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out
}
