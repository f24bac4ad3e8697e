package config

import (
	"encoding/json"
	"fmt"
	"regexp"
)

var (
	// ##KEY## is replaced with the value as text.
	stringKeyword = regexp.MustCompile(`##([A-Za-z0-9_]+)##`)

	// @@KEY@@ is replaced with the JSON encoding of the value.
	jsonKeyword = regexp.MustCompile(`@@([A-Za-z0-9_]+)@@`)
)

// ReplaceKeywords substitutes keyword mappings into raw source text. Keywords
// without a mapping are left in place.
func ReplaceKeywords(content string, mappings map[string]interface{}) (string, error) {
	if len(mappings) == 0 {
		return content, nil
	}

	var replaceErr error
	content = jsonKeyword.ReplaceAllStringFunc(content, func(match string) string {
		key := jsonKeyword.FindStringSubmatch(match)[1]
		value, ok := mappings[key]
		if !ok {
			return match
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			if replaceErr == nil {
				replaceErr = fmt.Errorf("failed to encode keyword %s: %w", key, err)
			}
			return match
		}
		return string(encoded)
	})
	if replaceErr != nil {
		return "", replaceErr
	}

	content = stringKeyword.ReplaceAllStringFunc(content, func(match string) string {
		key := stringKeyword.FindStringSubmatch(match)[1]
		value, ok := mappings[key]
		if !ok {
			return match
		}
		return fmt.Sprint(value)
	})

	return content, nil
}
