package policy

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPattern is returned when a path template cannot be compiled.
var ErrInvalidPattern = errors.New("invalid path pattern")

// TailParam is the parameter name under which a trailing "*" captures the
// rest of the path.
const TailParam = "*"

type segment struct {
	literal string
	param   string // non-empty for ":name" segments
}

// Pattern is a compiled path template. Templates are "/"-separated:
//
//	"/api/health"                     matches only "/api/health"
//	"/api/accounts/:accountId"        ":name" matches one non-empty segment
//	"/ui/*"                           a final "*" matches zero or more segments
//
// Matching is anchored at both ends and tolerates a single trailing slash
// on the request path.
type Pattern struct {
	raw      string
	segments []segment
	tail     bool
}

// CompilePattern parses a path template.
func CompilePattern(raw string) (Pattern, error) {
	if !strings.HasPrefix(raw, "/") {
		return Pattern{}, fmt.Errorf("%w %q: must start with /", ErrInvalidPattern, raw)
	}
	p := Pattern{raw: raw}
	if raw == "/" {
		return p, nil
	}

	parts := strings.Split(strings.TrimPrefix(raw, "/"), "/")
	seen := make(map[string]bool)
	for i, part := range parts {
		switch {
		case part == "":
			return Pattern{}, fmt.Errorf("%w %q: empty segment", ErrInvalidPattern, raw)
		case part == "*":
			if i != len(parts)-1 {
				return Pattern{}, fmt.Errorf("%w %q: * must be the last segment", ErrInvalidPattern, raw)
			}
			p.tail = true
		case strings.HasPrefix(part, ":"):
			name := part[1:]
			if name == "" {
				return Pattern{}, fmt.Errorf("%w %q: unnamed parameter", ErrInvalidPattern, raw)
			}
			if seen[name] {
				return Pattern{}, fmt.Errorf("%w %q: duplicate parameter %q", ErrInvalidPattern, raw, name)
			}
			seen[name] = true
			p.segments = append(p.segments, segment{param: name})
		default:
			p.segments = append(p.segments, segment{literal: part})
		}
	}
	return p, nil
}

// Match reports whether path matches the pattern and returns the captured
// parameters.
func (p Pattern) Match(path string) (map[string]string, bool) {
	if !strings.HasPrefix(path, "/") {
		return nil, false
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}

	var parts []string
	if path != "/" {
		parts = strings.Split(path[1:], "/")
	}

	if len(parts) < len(p.segments) || (!p.tail && len(parts) != len(p.segments)) {
		return nil, false
	}

	var params map[string]string
	for i, seg := range p.segments {
		part := parts[i]
		if seg.param == "" {
			if part != seg.literal {
				return nil, false
			}
			continue
		}
		if part == "" {
			return nil, false
		}
		if params == nil {
			params = make(map[string]string, len(p.segments))
		}
		params[seg.param] = part
	}

	if p.tail {
		if params == nil {
			params = make(map[string]string, 1)
		}
		params[TailParam] = strings.Join(parts[len(p.segments):], "/")
	}
	return params, true
}

// HasParam reports whether the pattern captures a parameter called name.
func (p Pattern) HasParam(name string) bool {
	if name == TailParam {
		return p.tail
	}
	for _, seg := range p.segments {
		if seg.param == name {
			return true
		}
	}
	return false
}

// Key renders the pattern with every wildcard written as ".*", e.g.
// "/api/accounts/.*/rules/.*". Counters and purchased overrides are keyed
// by this form.
func (p Pattern) Key() string {
	if len(p.segments) == 0 && !p.tail {
		return "/"
	}
	var b strings.Builder
	for _, seg := range p.segments {
		b.WriteByte('/')
		if seg.param != "" {
			b.WriteString(".*")
		} else {
			b.WriteString(seg.literal)
		}
	}
	if p.tail {
		b.WriteString("/.*")
	}
	return b.String()
}

// String returns the template the pattern was compiled from.
func (p Pattern) String() string {
	return p.raw
}
