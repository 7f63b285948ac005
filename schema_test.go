package xevent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func orderSchema(t *testing.T) Schema {
	t.Helper()
	return Schema{
		Name:    "order.created",
		Version: "1",
		Validator: MustFieldSpec(`
fields:
  message: string!
  count:
    type: number!
    min: 1
`),
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(orderSchema(t)))

	s, ok := reg.Get("order.created", "1")
	require.True(t, ok)
	assert.Equal(t, "order.created", s.Name)

	_, ok = reg.Get("order.created", "2")
	assert.False(t, ok)

	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_DuplicateRegistrationRejected(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(orderSchema(t)))

	err := reg.Register(orderSchema(t))
	require.Error(t, err)
	assert.ErrorAs(t, err, &DuplicateSchemaError{})

	// A different version of the same name is a distinct key.
	other := orderSchema(t)
	other.Version = "2"
	require.NoError(t, reg.Register(other))
}

func TestRegistry_ValidateUnregistered(t *testing.T) {
	reg := NewRegistry()

	res := reg.Validate("nope", "1", map[string]any{"x": 1})
	assert.False(t, res.Valid)
	assert.Equal(t, []string{"Schema not found"}, res.Errors)
}

func TestRegistry_ValidateValidPayload(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(orderSchema(t)))

	res := reg.Validate("order.created", "1", map[string]any{
		"message": "hello",
		"count":   3,
	})
	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
}

func TestRegistry_ValidateReportsAllViolations(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(orderSchema(t)))

	res := reg.Validate("order.created", "1", map[string]any{
		"count": -1,
	})
	require.False(t, res.Valid)
	require.Len(t, res.Errors, 2)
	assert.Contains(t, res.Errors[0], "count: ")
	assert.Contains(t, res.Errors[1], "message: ")
	assert.Contains(t, res.Errors[1], "required field is missing")
}

func TestFieldSpec_ShorthandAndLongForm(t *testing.T) {
	v, err := ParseFieldSpec([]byte(`
fields:
  user_id: string!
  active: bool
  endpoint:
    type: string
    minLength: 1
    pattern: "^/"
  plan:
    type: string
    enum: [free, pro]
`))
	require.NoError(t, err)

	errs := v.Validate(map[string]any{
		"user_id":  "u-1",
		"active":   true,
		"endpoint": "/orders",
		"plan":     "pro",
	})
	assert.Empty(t, errs)

	errs = v.Validate(map[string]any{
		"active":   "yes",
		"endpoint": "orders",
		"plan":     "enterprise",
	})
	require.Len(t, errs, 4)
	fields := make([]string, len(errs))
	for i, fe := range errs {
		fields[i] = fe.Field
	}
	assert.Equal(t, []string{"active", "endpoint", "plan", "user_id"}, fields)
}

func TestFieldSpec_NumericBoundsAndLengths(t *testing.T) {
	v := MustFieldSpec(`
fields:
  count:
    type: int32
    min: 0
    max: 10
  name:
    type: string
    minLength: 2
    maxLength: 4
`)

	assert.Empty(t, v.Validate(map[string]any{"count": 10, "name": "ab"}))

	errs := v.Validate(map[string]any{"count": 11, "name": "a"})
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0].String(), "count: value 11 exceeds maximum 10")
	assert.Contains(t, errs[1].String(), "name: string length 1 is less than minimum 2")
}

func TestFieldSpec_StrictRejectsUnknownFields(t *testing.T) {
	v, err := ParseFieldSpec([]byte(`
strict: true
fields:
  id: string!
`))
	require.NoError(t, err)

	errs := v.Validate(map[string]any{"id": "x", "extra": 1})
	require.Len(t, errs, 1)
	assert.Equal(t, "extra: unknown field", errs[0].String())
}

func TestFieldSpec_InvalidDefinitions(t *testing.T) {
	_, err := ParseFieldSpec([]byte(`
fields:
  bad: widget
`))
	require.Error(t, err)

	_, err = ParseFieldSpec([]byte(`
fields:
  bad:
    type: string
    pattern: "["
`))
	require.Error(t, err)
}

func TestValidatorFunc(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Schema{
		Name:    "ping",
		Version: "1",
		Validator: ValidatorFunc(func(p map[string]any) []FieldError {
			if _, ok := p["seq"]; !ok {
				return []FieldError{{Field: "seq", Reason: "required field is missing"}}
			}
			return nil
		}),
	}))

	res := reg.Validate("ping", "1", map[string]any{})
	require.False(t, res.Valid)
	assert.Equal(t, []string{"seq: required field is missing"}, res.Errors)
}
