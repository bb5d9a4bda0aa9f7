package provider

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/cloo-solutions/tenderwise/internal/domain"
	"github.com/tidwall/jsonc"
)

// DecodeJSON extracts the JSON object from a model reply and unmarshals it
// into v. Code fences, surrounding prose, comments and trailing commas are
// tolerated.
func DecodeJSON(text string, v any) error {
	body := StripFences(text)

	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end <= start {
		return domain.Wrap(domain.ErrMalformedOutput, errors.New("no JSON object in response"))
	}

	clean := jsonc.ToJSON([]byte(body[start : end+1]))
	if err := json.Unmarshal(clean, v); err != nil {
		return domain.Wrap(domain.ErrMalformedOutput, err)
	}
	return nil
}

// StripFences removes a surrounding markdown code fence, if any.
func StripFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.Index(s, "\n"); nl >= 0 {
		s = s[nl+1:]
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
