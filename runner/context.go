package runner

import (
	"fmt"
	"regexp"
	"strings"
)

// placeholderPattern matches {field} and {context.field} in payload template
// strings.
var placeholderPattern = regexp.MustCompile(`\{(?:context\.)?(\w+)\}`)

// UserContext is the mutable state of one virtual user. It is owned
// exclusively by that user's goroutine and is never shared, so it needs no
// locking.
type UserContext struct {
	// Token authenticates the user against the agent service.
	Token string

	// SessionID identifies the user's session with the agent.
	SessionID string

	// ExtractedFields accumulates values pulled out of agent responses,
	// available to later nodes via payload placeholders and predicate
	// bindings.
	ExtractedFields map[string]any

	// DialogHistory holds one summary line per completed dialog turn.
	DialogHistory []string
}

// NewUserContext creates an empty context for one virtual user.
func NewUserContext(token, sessionID string) *UserContext {
	return &UserContext{
		Token:           token,
		SessionID:       sessionID,
		ExtractedFields: make(map[string]any),
	}
}

// BuildPayload renders a payload template against the extracted fields.
//
// String values have {field} and {context.field} placeholders replaced by
// the stringified field value; a missing field substitutes the empty string
// and never errors. Nested maps and slices are rendered recursively. The
// template itself is not mutated.
func (c *UserContext) BuildPayload(template map[string]any) map[string]any {
	if template == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(template))
	for key, value := range template {
		out[key] = c.renderValue(value)
	}
	return out
}

func (c *UserContext) renderValue(value any) any {
	switch v := value.(type) {
	case string:
		return placeholderPattern.ReplaceAllStringFunc(v, func(match string) string {
			key := placeholderPattern.FindStringSubmatch(match)[1]
			field, ok := c.ExtractedFields[key]
			if !ok || field == nil {
				return ""
			}
			return fmt.Sprintf("%v", field)
		})
	case map[string]any:
		return c.BuildPayload(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = c.renderValue(item)
		}
		return out
	default:
		return value
	}
}

// ExtractFields pulls values out of an agent response by dot path and
// stores them under the mapped names. Missing path segments yield no
// extraction and never error.
func (c *UserContext) ExtractFields(response map[string]any, extractionMap map[string]string) {
	for name, path := range extractionMap {
		if value, ok := lookupPath(response, path); ok {
			c.ExtractedFields[name] = value
		}
	}
}

// Headers builds the per-user request headers, carrying the bearer token
// and session when present.
func (c *UserContext) Headers() map[string]string {
	headers := make(map[string]string)
	if c.Token != "" {
		headers["Authorization"] = "Bearer " + c.Token
	}
	if c.SessionID != "" {
		headers["X-Session-ID"] = c.SessionID
	}
	return headers
}

// lookupPath resolves a dot path like "a.b.c" inside nested maps.
func lookupPath(m map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	segments := strings.Split(path, ".")
	var current any = m
	for _, segment := range segments {
		asMap, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = asMap[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
