package api

import (
	"net/http"
	"strings"

	"github.com/ledgerline/site/internal/pkg/httputil"
	"github.com/ledgerline/site/internal/pkg/logger"
)

// =============================================================================
// ERROR SANITIZER
// Internal errors (store addresses, file paths, key names) never reach API
// consumers. 5xx responses carry a generic message; the full error is logged.
// =============================================================================

// sanitizedError logs the full internal error and returns a public-safe message.
func sanitizedError(code int, internalErr error, publicMsg string) string {
	if internalErr != nil {
		logger.Error(publicMsg, "status", code, "error", internalErr)
	}
	return publicMsg
}

// respondSafeError logs the internal error and sends a sanitized JSON error.
func respondSafeError(w http.ResponseWriter, code int, internalErr error, publicMsg string) {
	msg := sanitizedError(code, internalErr, publicMsg)
	httputil.Error(w, code, msg)
}

// safeErrorMessage maps common internal error patterns to public-safe messages.
// 4xx errors describe user input and are returned as-is.
func safeErrorMessage(code int, internalErr error) string {
	if code < 500 {
		if internalErr != nil {
			return internalErr.Error()
		}
		return "Bad request"
	}

	if internalErr == nil {
		return "An internal error occurred"
	}

	errStr := strings.ToLower(internalErr.Error())

	switch {
	case strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "dial tcp") ||
		strings.Contains(errStr, "store unavailable"):
		return "Service temporarily unavailable"

	case strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "context canceled"):
		return "Request timed out"

	case strings.Contains(errStr, "wrongtype") ||
		strings.Contains(errStr, "readonly"):
		return "A storage error occurred"

	case strings.Contains(errStr, "no space left") ||
		strings.Contains(errStr, "quota exceeded"):
		return "Export storage is full"

	case strings.Contains(errStr, "permission") ||
		strings.Contains(errStr, "access denied"):
		return "Access denied"

	default:
		return "An internal error occurred"
	}
}
