package tools

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ValidationError marks caller-visible argument failures. It maps to a 400
// at the HTTP layer and is never retried.
type ValidationError struct {
	Tool      string
	Parameter string
	Reason    string
}

func (e *ValidationError) Error() string {
	if e.Parameter == "" {
		return fmt.Sprintf("tools: %s: %s", e.Tool, e.Reason)
	}
	return fmt.Sprintf("tools: %s: parameter %q: %s", e.Tool, e.Parameter, e.Reason)
}

// CoerceAndValidate normalises raw arguments against a tool's parameter
// declarations. Coercion is best-effort (integral floats to ints, numeric
// strings to numbers, common boolean strings); numeric values are clamped to
// declared ranges. Validation then checks required presence, type, enum
// membership and regex patterns, and rejects unknown arguments unless the
// tool opts into pass-through. The returned map is a fresh copy; the input is
// never mutated.
func CoerceAndValidate(md *Metadata, raw map[string]any) (map[string]any, error) {
	declared := make(map[string]*Parameter, len(md.Parameters))
	for i := range md.Parameters {
		declared[md.Parameters[i].Name] = &md.Parameters[i]
	}

	for name := range raw {
		if _, ok := declared[name]; !ok && !md.AllowUnknown {
			return nil, &ValidationError{Tool: md.Name, Parameter: name, Reason: "unknown parameter"}
		}
	}

	out := make(map[string]any, len(raw))
	if md.AllowUnknown {
		for name, value := range raw {
			if _, ok := declared[name]; !ok {
				out[name] = value
			}
		}
	}
	for i := range md.Parameters {
		p := &md.Parameters[i]
		value, present := raw[p.Name]
		if !present || value == nil {
			if p.Required {
				return nil, &ValidationError{Tool: md.Name, Parameter: p.Name, Reason: "required parameter missing"}
			}
			if p.Default != nil {
				out[p.Name] = p.Default
			}
			continue
		}

		coerced, err := coerceValue(p, value)
		if err != nil {
			return nil, &ValidationError{Tool: md.Name, Parameter: p.Name, Reason: err.Error()}
		}
		if err := validateValue(p, coerced); err != nil {
			return nil, &ValidationError{Tool: md.Name, Parameter: p.Name, Reason: err.Error()}
		}
		out[p.Name] = coerced
	}
	return out, nil
}

// coerceValue converts value towards p.Type where the conversion is lossless
// or conventional, and clamps numerics to the declared range.
func coerceValue(p *Parameter, value any) (any, error) {
	switch p.Type {
	case TypeInteger:
		switch v := value.(type) {
		case int:
			return clampInt(p, int64(v)), nil
		case int64:
			return clampInt(p, v), nil
		case float64:
			if v == math.Trunc(v) {
				return clampInt(p, int64(v)), nil
			}
			return nil, fmt.Errorf("expected integer, got fractional %v", v)
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("expected integer, got %q", v)
			}
			return clampInt(p, n), nil
		}
	case TypeNumber:
		switch v := value.(type) {
		case float64:
			return clampFloat(p, v), nil
		case int:
			return clampFloat(p, float64(v)), nil
		case int64:
			return clampFloat(p, float64(v)), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("expected number, got %q", v)
			}
			return clampFloat(p, f), nil
		}
	case TypeBoolean:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true", "1", "yes", "on":
				return true, nil
			case "false", "0", "no", "off":
				return false, nil
			}
			return nil, fmt.Errorf("expected boolean, got %q", v)
		}
	case TypeString:
		if s, ok := value.(string); ok {
			return s, nil
		}
	case TypeArray:
		if a, ok := value.([]any); ok {
			return a, nil
		}
	case TypeObject:
		if o, ok := value.(map[string]any); ok {
			return o, nil
		}
	}
	return nil, fmt.Errorf("expected %s, got %T", p.Type, value)
}

func clampInt(p *Parameter, v int64) int64 {
	if p.MinValue != nil && float64(v) < *p.MinValue {
		v = int64(*p.MinValue)
	}
	if p.MaxValue != nil && float64(v) > *p.MaxValue {
		v = int64(*p.MaxValue)
	}
	return v
}

func clampFloat(p *Parameter, v float64) float64 {
	if p.MinValue != nil && v < *p.MinValue {
		v = *p.MinValue
	}
	if p.MaxValue != nil && v > *p.MaxValue {
		v = *p.MaxValue
	}
	return v
}

// validateValue checks enum membership and string patterns. Type and range
// are already settled by coercion.
func validateValue(p *Parameter, value any) error {
	if len(p.Enum) > 0 {
		found := false
		for _, allowed := range p.Enum {
			if equalValue(allowed, value) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("value %v not in enum %v", value, p.Enum)
		}
	}
	if p.Pattern != "" {
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("pattern declared on non-string value")
		}
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return fmt.Errorf("invalid pattern %q: %v", p.Pattern, err)
		}
		if !re.MatchString(s) {
			return fmt.Errorf("value %q does not match pattern %q", s, p.Pattern)
		}
	}
	return nil
}

// equalValue compares enum entries against coerced values across the int
// width mismatch JSON decoding introduces.
func equalValue(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
