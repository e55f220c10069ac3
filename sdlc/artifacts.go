package sdlc

import "strings"

// CleanCodeFences strips markdown code fences from model output so code and
// test artifacts are stored as plain source. Handles a leading ```lang tag
// (case-insensitive), a bare ``` and a trailing fence.
func CleanCodeFences(content, language string) string {
	content = strings.TrimSpace(content)

	if language != "" {
		tag := "```" + strings.ToLower(language)
		if len(content) >= len(tag) && strings.EqualFold(content[:len(tag)], tag) {
			content = content[len(tag):]
		} else if strings.HasPrefix(content, "```") {
			content = content[3:]
		}
	} else if strings.HasPrefix(content, "```") {
		content = content[3:]
	}

	if strings.HasSuffix(content, "```") {
		content = content[:len(content)-3]
	}
	return strings.TrimSpace(content)
}

// firstLine returns the first non-empty line of s, truncated for history
// notes.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(line) > 120 {
			return line[:120] + "…"
		}
		return line
	}
	return ""
}
