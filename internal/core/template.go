package core

import (
	"fmt"
	"regexp"
)

var placeholderPattern = regexp.MustCompile(`\{(\w+)\}`)

// ExpandTemplate is a narrow placeholder expander over a fixed, explicit
// set of values. Unknown placeholders are rejected rather than left
// in place or silently dropped, per this module's design note on prompt
// templates.
func ExpandTemplate(template string, values map[string]string) (string, error) {
	var firstErr error
	expanded := placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		value, ok := values[name]
		if !ok {
			if firstErr == nil {
				firstErr = fmt.Errorf("unknown template placeholder {%s}", name)
			}
			return match
		}
		return value
	})
	if firstErr != nil {
		return "", firstErr
	}
	return expanded, nil
}
