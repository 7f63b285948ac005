package xevent

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// FieldSpec declares the constraints for a single payload field.
//
// Specs support two YAML declaration styles:
//
//	shorthand:  user_id: string!
//	long form:  count:
//	              type: number!
//	              min: 1
//
// Type names: string, boolean, number. Append "!" to mark the field required.
type FieldSpec struct {
	// Type is "string", "boolean" or "number".
	Type string `yaml:"type"`
	// Required rejects payloads missing the field or carrying null.
	Required bool `yaml:"required,omitempty"`
	// Enum restricts string values to a fixed set.
	Enum []string `yaml:"enum,omitempty"`
	// Min/Max bound numeric values (inclusive).
	Min *float64 `yaml:"min,omitempty"`
	Max *float64 `yaml:"max,omitempty"`
	// MinLength/MaxLength bound string length.
	MinLength *int `yaml:"minLength,omitempty"`
	MaxLength *int `yaml:"maxLength,omitempty"`
	// Pattern is an anchored-as-written regular expression for strings.
	Pattern string `yaml:"pattern,omitempty"`

	compiledPattern *regexp.Regexp
}

// UnmarshalYAML supports both the scalar shorthand and the long form.
func (f *FieldSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return f.parseTypeString(value.Value)
	}

	type specAlias FieldSpec
	var alias specAlias
	if err := value.Decode(&alias); err != nil {
		return err
	}
	*f = FieldSpec(alias)
	return f.parseTypeString(f.Type)
}

func (f *FieldSpec) parseTypeString(t string) error {
	if strings.HasSuffix(t, "!") {
		f.Required = true
		t = strings.TrimSuffix(t, "!")
	}
	switch t {
	case "string", "boolean", "number":
		f.Type = t
	case "bool":
		f.Type = "boolean"
	case "int", "int32", "int64", "float", "double":
		f.Type = "number"
	case "":
		return fmt.Errorf("field type missing")
	default:
		return fmt.Errorf("unknown field type %q", t)
	}
	return nil
}

// FieldSpecValidator validates payloads against a declarative field map.
// It satisfies Validator and reports every violation.
type FieldSpecValidator struct {
	// Fields maps payload field name to its spec.
	Fields map[string]*FieldSpec `yaml:"fields"`
	// Strict rejects payload fields that are not declared.
	Strict bool `yaml:"strict,omitempty"`
}

var _ Validator = (*FieldSpecValidator)(nil)

// ParseFieldSpec compiles a YAML field-spec document into a validator.
func ParseFieldSpec(def []byte) (*FieldSpecValidator, error) {
	var v FieldSpecValidator
	if err := yaml.Unmarshal(def, &v); err != nil {
		return nil, fmt.Errorf("xevent: parse field spec: %w", err)
	}
	if err := v.compile(); err != nil {
		return nil, err
	}
	return &v, nil
}

// MustFieldSpec is ParseFieldSpec for static schema literals; panics on error.
func MustFieldSpec(def string) *FieldSpecValidator {
	v, err := ParseFieldSpec([]byte(def))
	if err != nil {
		panic(err)
	}
	return v
}

func (v *FieldSpecValidator) compile() error {
	for name, spec := range v.Fields {
		if spec == nil {
			return fmt.Errorf("xevent: field %q has no spec", name)
		}
		if spec.Pattern != "" {
			re, err := regexp.Compile(spec.Pattern)
			if err != nil {
				return fmt.Errorf("xevent: field %q pattern: %w", name, err)
			}
			spec.compiledPattern = re
		}
	}
	return nil
}

// Validate checks payload against the declared fields and returns all violations.
func (v *FieldSpecValidator) Validate(payload map[string]any) []FieldError {
	var errs []FieldError

	// Deterministic error order for stable messages.
	names := make([]string, 0, len(v.Fields))
	for name := range v.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec := v.Fields[name]
		value, exists := payload[name]

		if !exists || value == nil {
			if spec.Required {
				errs = append(errs, FieldError{Field: name, Reason: "required field is missing"})
			}
			continue
		}
		if fe, ok := spec.check(name, value); !ok {
			errs = append(errs, fe)
		}
	}

	if v.Strict {
		var unknown []string
		for key := range payload {
			if _, declared := v.Fields[key]; !declared {
				unknown = append(unknown, key)
			}
		}
		sort.Strings(unknown)
		for _, key := range unknown {
			errs = append(errs, FieldError{Field: key, Reason: "unknown field"})
		}
	}

	return errs
}

func (s *FieldSpec) check(name string, value any) (FieldError, bool) {
	switch s.Type {
	case "string":
		str, ok := value.(string)
		if !ok {
			return FieldError{Field: name, Reason: fmt.Sprintf("expected string, got %T", value)}, false
		}
		return s.checkString(name, str)
	case "boolean":
		if _, ok := value.(bool); !ok {
			return FieldError{Field: name, Reason: fmt.Sprintf("expected boolean, got %T", value)}, false
		}
		return FieldError{}, true
	case "number":
		n, ok := asNumber(value)
		if !ok {
			return FieldError{Field: name, Reason: fmt.Sprintf("expected number, got %T", value)}, false
		}
		return s.checkNumber(name, n)
	default:
		return FieldError{Field: name, Reason: fmt.Sprintf("unknown field type %q", s.Type)}, false
	}
}

func (s *FieldSpec) checkString(name, str string) (FieldError, bool) {
	if len(s.Enum) > 0 {
		found := false
		for _, allowed := range s.Enum {
			if allowed == str {
				found = true
				break
			}
		}
		if !found {
			return FieldError{Field: name, Reason: fmt.Sprintf("value %q not in enum %v", str, s.Enum)}, false
		}
	}
	if s.MinLength != nil && len(str) < *s.MinLength {
		return FieldError{Field: name, Reason: fmt.Sprintf("string length %d is less than minimum %d", len(str), *s.MinLength)}, false
	}
	if s.MaxLength != nil && len(str) > *s.MaxLength {
		return FieldError{Field: name, Reason: fmt.Sprintf("string length %d exceeds maximum %d", len(str), *s.MaxLength)}, false
	}
	if s.compiledPattern != nil && !s.compiledPattern.MatchString(str) {
		return FieldError{Field: name, Reason: fmt.Sprintf("value %q does not match pattern %s", str, s.Pattern)}, false
	}
	return FieldError{}, true
}

func (s *FieldSpec) checkNumber(name string, n float64) (FieldError, bool) {
	if s.Min != nil && n < *s.Min {
		return FieldError{Field: name, Reason: fmt.Sprintf("value %v is less than minimum %v", n, *s.Min)}, false
	}
	if s.Max != nil && n > *s.Max {
		return FieldError{Field: name, Reason: fmt.Sprintf("value %v exceeds maximum %v", n, *s.Max)}, false
	}
	return FieldError{}, true
}

// asNumber widens the numeric types a decoded JSON/YAML payload may carry.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
