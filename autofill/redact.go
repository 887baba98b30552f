package autofill

import (
	"encoding/json"
	"log/slog"
	"regexp"
)

// secretKeys are the JSON members whose values never reach the logs.
var secretKeys = map[string]bool{
	"password": true,
	"value":    true,
}

// RedactText masks secret members of a JSON request or response so it can be
// logged. Text that is not valid JSON falls back to a pattern-based pass.
func RedactText(text string) string {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return regexRedact(text)
	}
	data, err := json.Marshal(redactValue(v))
	if err != nil {
		return regexRedact(text)
	}
	return string(data)
}

// Redacted is request or response text for a log attribute. It is masked with
// RedactText only when a handler actually writes the record.
type Redacted string

// LogValue implements slog.LogValuer.
func (r Redacted) LogValue() slog.Value {
	return slog.StringValue(RedactText(string(r)))
}

func redactValue(v any) any {
	switch n := v.(type) {
	case map[string]any:
		for k, child := range n {
			if _, isString := child.(string); isString && secretKeys[k] {
				n[k] = "***"
				continue
			}
			n[k] = redactValue(child)
		}
		return n
	case []any:
		for i, child := range n {
			n[i] = redactValue(child)
		}
		return n
	default:
		return v
	}
}

var reSecretMember = regexp.MustCompile(`("(?:password|value)"\s*:\s*)"(?:[^"\\]|\\.)*"`)

// regexRedact handles truncated or otherwise broken JSON.
func regexRedact(text string) string {
	return reSecretMember.ReplaceAllString(text, `$1"***"`)
}
