package completion

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	maxArgumentKeyLength   = 100
	maxArgumentValueLength = 1000
)

// ParseArguments decodes streamed tool-call arguments.
// An empty string is an empty object; anything other than a JSON object is an error.
func ParseArguments(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}

	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}

	args, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("invalid tool arguments: arguments JSON is not an object")
	}
	return args, nil
}

// ValidateArguments applies the size limits to decoded arguments
func ValidateArguments(args map[string]any) error {
	for key, value := range args {
		if utf8.RuneCountInString(key) > maxArgumentKeyLength {
			return fmt.Errorf("invalid tool arguments: argument key too long")
		}
		if s, ok := value.(string); ok && utf8.RuneCountInString(s) > maxArgumentValueLength {
			return fmt.Errorf("invalid tool arguments: argument value too long")
		}
	}
	return nil
}
