package tools

import (
	"errors"
	"testing"
)

func floatPtr(f float64) *float64 { return &f }

func testMetadata() *Metadata {
	return &Metadata{
		Name: "probe",
		Parameters: []Parameter{
			{Name: "count", Type: TypeInteger, Required: true, MinValue: floatPtr(1), MaxValue: floatPtr(10)},
			{Name: "ratio", Type: TypeNumber},
			{Name: "verbose", Type: TypeBoolean},
			{Name: "mode", Type: TypeString, Enum: []any{"fast", "slow"}},
			{Name: "tag", Type: TypeString, Pattern: `^[a-z]+$`},
			{Name: "limit", Type: TypeInteger, Default: int64(3)},
		},
	}
}

func TestCoerceIntegerForms(t *testing.T) {
	md := testMetadata()
	cases := []struct {
		in   any
		want int64
	}{
		{5, 5},
		{float64(7), 7},
		{"8", 8},
		{" 9 ", 9},
		{100, 10}, // clamped to max
		{0, 1},    // clamped to min
	}
	for _, tc := range cases {
		args, err := CoerceAndValidate(md, map[string]any{"count": tc.in})
		if err != nil {
			t.Errorf("count=%v: %v", tc.in, err)
			continue
		}
		if got := args["count"].(int64); got != tc.want {
			t.Errorf("count=%v coerced to %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestCoerceRejectsFractionalInteger(t *testing.T) {
	md := testMetadata()
	if _, err := CoerceAndValidate(md, map[string]any{"count": 2.5}); err == nil {
		t.Error("fractional value accepted as integer")
	}
}

func TestCoerceBooleanStrings(t *testing.T) {
	md := testMetadata()
	for in, want := range map[string]bool{
		"true": true, "yes": true, "1": true,
		"false": false, "no": false, "0": false,
	} {
		args, err := CoerceAndValidate(md, map[string]any{"count": 1, "verbose": in})
		if err != nil {
			t.Errorf("verbose=%q: %v", in, err)
			continue
		}
		if got := args["verbose"].(bool); got != want {
			t.Errorf("verbose=%q coerced to %t, want %t", in, got, want)
		}
	}
}

func TestValidateRequiredMissing(t *testing.T) {
	md := testMetadata()
	_, err := CoerceAndValidate(md, map[string]any{})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if ve.Parameter != "count" {
		t.Errorf("failed parameter = %q", ve.Parameter)
	}
}

func TestValidateUnknownRejected(t *testing.T) {
	md := testMetadata()
	if _, err := CoerceAndValidate(md, map[string]any{"count": 1, "bogus": true}); err == nil {
		t.Error("unknown parameter accepted")
	}
}

func TestValidateEnum(t *testing.T) {
	md := testMetadata()
	if _, err := CoerceAndValidate(md, map[string]any{"count": 1, "mode": "fast"}); err != nil {
		t.Errorf("enum member rejected: %v", err)
	}
	if _, err := CoerceAndValidate(md, map[string]any{"count": 1, "mode": "turbo"}); err == nil {
		t.Error("non-member accepted")
	}
}

func TestValidatePattern(t *testing.T) {
	md := testMetadata()
	if _, err := CoerceAndValidate(md, map[string]any{"count": 1, "tag": "abc"}); err != nil {
		t.Errorf("matching value rejected: %v", err)
	}
	if _, err := CoerceAndValidate(md, map[string]any{"count": 1, "tag": "ABC"}); err == nil {
		t.Error("non-matching value accepted")
	}
}

func TestDefaultApplied(t *testing.T) {
	md := testMetadata()
	args, err := CoerceAndValidate(md, map[string]any{"count": 1})
	if err != nil {
		t.Fatal(err)
	}
	if got := args["limit"]; got != int64(3) {
		t.Errorf("limit default = %v", got)
	}
}

func TestInputNotMutated(t *testing.T) {
	md := testMetadata()
	in := map[string]any{"count": "4"}
	if _, err := CoerceAndValidate(md, in); err != nil {
		t.Fatal(err)
	}
	if in["count"] != "4" {
		t.Error("input map was mutated")
	}
}
