package middleware

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/huangang/offboarding/pkg/logger"
)

const auditBodyLimit = 2000

// AuditLog logs every write operation with its caller, route and outcome.
func AuditLog() gin.HandlerFunc {
	audit := logger.Component("audit")

	return func(c *gin.Context) {
		method := c.Request.Method
		if method != http.MethodPost && method != http.MethodPut && method != http.MethodDelete {
			c.Next()
			return
		}

		var bodySnippet string
		if c.Request.Body != nil {
			bodyBytes, _ := io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			bodySnippet = string(bodyBytes)
			if len(bodySnippet) > auditBodyLimit {
				bodySnippet = bodySnippet[:auditBodyLimit] + "...[truncated]"
			}
			bodySnippet = maskSensitiveFields(bodySnippet)
		}

		c.Next()

		status := c.Writer.Status()
		module, action := parseRouteInfo(c.FullPath(), method)

		event := audit.Info()
		if status >= 400 {
			event = audit.Warn()
		}
		event.
			Uint("user_id", GetUserID(c)).
			Str("role", GetRole(c)).
			Str("module", module).
			Str("action", action).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Str("body", bodySnippet).
			Msg(formatAuditMessage(GetUsername(c), method, c.Request.URL.Path, status))
	}
}

// parseRouteInfo extracts module and action from a Gin route pattern.
// e.g. "/api/sessions/:sid/rating" + "PUT" gives module="sessions", action="rating.update"
func parseRouteInfo(fullPath, method string) (module, action string) {
	path := strings.Trim(strings.TrimPrefix(fullPath, "/api/"), "/")
	parts := strings.Split(path, "/")

	module = parts[0]
	if module == "" {
		module = "unknown"
	}

	verb := method
	switch method {
	case http.MethodPost:
		verb = "create"
	case http.MethodPut:
		verb = "update"
	case http.MethodDelete:
		verb = "delete"
	}

	// the last literal segment names the sub-resource
	for i := len(parts) - 1; i > 0; i-- {
		if !strings.HasPrefix(parts[i], ":") {
			return module, parts[i] + "." + verb
		}
	}
	return module, verb
}

func formatAuditMessage(username, method, path string, status int) string {
	var b strings.Builder
	b.WriteString("[Audit] ")
	if username != "" {
		b.WriteString(username)
		b.WriteString(" ")
	}
	b.WriteString(method)
	b.WriteString(" ")
	b.WriteString(path)
	if status >= 200 && status < 300 {
		b.WriteString(" OK")
	} else {
		b.WriteString(" Failed")
	}
	return b.String()
}

// maskSensitiveFields replaces sensitive values in a JSON body
func maskSensitiveFields(body string) string {
	sensitiveKeys := []string{"password", "secret", "token", "access_token"}
	lower := strings.ToLower(body)
	for _, key := range sensitiveKeys {
		if strings.Contains(lower, key) {
			body = maskJSONValue(body, key)
		}
	}
	return body
}

// maskJSONValue does a best-effort mask of the JSON string value of key
func maskJSONValue(body, key string) string {
	lower := strings.ToLower(body)
	idx := strings.Index(lower, "\""+key+"\"")
	if idx == -1 {
		return body
	}

	colonIdx := strings.Index(body[idx+len(key)+2:], ":")
	if colonIdx == -1 {
		return body
	}
	valueStart := idx + len(key) + 2 + colonIdx + 1

	for valueStart < len(body) && (body[valueStart] == ' ' || body[valueStart] == '\t') {
		valueStart++
	}
	if valueStart >= len(body) || body[valueStart] != '"' {
		return body
	}

	endQuote := strings.Index(body[valueStart+1:], "\"")
	if endQuote == -1 {
		return body
	}
	return body[:valueStart+1] + "***" + body[valueStart+1+endQuote:]
}
