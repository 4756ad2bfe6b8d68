package subscriber

import (
    "fmt"
    "strings"
)

const (
    segmentSeparator = "."
    wildcard         = "*"
    multiWildcard    = "**"
)

// subjectTemplate is a compiled subject pattern.
//
// Subjects and templates are split on "." and compared case-insensitively.
// A "*" inside a segment matches any run of characters within that segment,
// so "*" alone matches exactly one segment. A "**" segment matches one or
// more whole segments.
type subjectTemplate struct {
    raw      string
    segments []string
}

func compileTemplate(raw string) (subjectTemplate, error) {
    if strings.TrimSpace(raw) == "" {
        return subjectTemplate{}, fmt.Errorf("%w: template is empty", ErrTemplateInvalid)
    }
    segments := strings.Split(strings.ToLower(raw), segmentSeparator)
    for _, segment := range segments {
        if segment == "" {
            return subjectTemplate{}, fmt.Errorf("%w: %q has an empty segment", ErrTemplateInvalid, raw)
        }
        if segment != multiWildcard && strings.Contains(segment, multiWildcard) {
            return subjectTemplate{}, fmt.Errorf("%w: %q mixes ** with other characters", ErrTemplateInvalid, raw)
        }
    }
    return subjectTemplate{raw: raw, segments: segments}, nil
}

func (t subjectTemplate) String() string {
    return t.raw
}

// Match reports whether subject matches the template.
func (t subjectTemplate) Match(subject string) bool {
    if subject == "" {
        return false
    }
    return matchSegments(t.segments, strings.Split(strings.ToLower(subject), segmentSeparator))
}

func matchSegments(patterns, segments []string) bool {
    for len(patterns) > 0 {
        if patterns[0] == multiWildcard {
            rest := patterns[1:]
            for consumed := 1; consumed <= len(segments); consumed++ {
                if matchSegments(rest, segments[consumed:]) {
                    return true
                }
            }
            return false
        }
        if len(segments) == 0 || !matchSegment(patterns[0], segments[0]) {
            return false
        }
        patterns, segments = patterns[1:], segments[1:]
    }
    return len(segments) == 0
}

// matchSegment matches a single segment against a pattern where "*" stands
// for any run of characters, including none.
func matchSegment(pattern, segment string) bool {
    if !strings.Contains(pattern, wildcard) {
        return pattern == segment
    }

    parts := strings.Split(pattern, wildcard)
    first, last := parts[0], parts[len(parts)-1]
    if !strings.HasPrefix(segment, first) {
        return false
    }
    segment = segment[len(first):]

    for _, part := range parts[1 : len(parts)-1] {
        idx := strings.Index(segment, part)
        if idx < 0 {
            return false
        }
        segment = segment[idx+len(part):]
    }

    return strings.HasSuffix(segment, last)
}
