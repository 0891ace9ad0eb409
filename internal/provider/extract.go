package provider

import "strings"

// ExtractJSON cuts the first '{' .. last '}' substring out of raw command
// output. Provider scripts print progress noise around the result object, so
// the boundaries are positional rather than parsed.
func ExtractJSON(output string) (string, bool) {
	start := strings.Index(output, "{")
	end := strings.LastIndex(output, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return output[start : end+1], true
}
