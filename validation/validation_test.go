package validation

import (
	"strings"
	"testing"

	"github.com/kbukum/loadguard/errors"
)

type limits struct {
	BucketSize int     `mapstructure:"bucket_size" validate:"gte=1"`
	RefillRate float64 `mapstructure:"refill_rate" validate:"gt=0"`
}

type guardConfig struct {
	Name      string `mapstructure:"name" validate:"required"`
	Tier      string `yaml:"tier" validate:"omitempty,oneof=minimal standard high enterprise"`
	RateLimit limits `mapstructure:"rate_limit"`
	Ratio     float64 `json:"sample_rate" validate:"lte=1"`
	Hidden    int    `mapstructure:"-" validate:"gte=0"`
}

func validGuardConfig() guardConfig {
	return guardConfig{
		Name:      "payments",
		Tier:      "standard",
		RateLimit: limits{BucketSize: 10, RefillRate: 5},
		Ratio:     0.5,
	}
}

func TestValidate_Valid(t *testing.T) {
	cfg := validGuardConfig()
	if err := Validate(&cfg); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestValidate_NestedPath(t *testing.T) {
	cfg := validGuardConfig()
	cfg.RateLimit.BucketSize = 0

	err := Validate(&cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "rate_limit.bucket_size: must be at least 1") {
		t.Errorf("expected nested field path in message, got %q", err.Error())
	}
}

func TestValidate_Messages(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*guardConfig)
		want   string
	}{
		{"required", func(c *guardConfig) { c.Name = "" }, "name: is required"},
		{"oneof", func(c *guardConfig) { c.Tier = "huge" }, "tier: must be one of: minimal standard high enterprise"},
		{"gt", func(c *guardConfig) { c.RateLimit.RefillRate = 0 }, "rate_limit.refill_rate: must be greater than 0"},
		{"lte via json tag", func(c *guardConfig) { c.Ratio = 2 }, "sample_rate: must be at most 1"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validGuardConfig()
			tc.mutate(&cfg)
			err := Validate(&cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("expected message containing %q, got %q", tc.want, err.Error())
			}
		})
	}
}

func TestValidate_AppError(t *testing.T) {
	cfg := validGuardConfig()
	cfg.Name = ""
	cfg.RateLimit.BucketSize = -1

	err := Validate(&cfg)
	appErr, ok := errors.AsAppError(err)
	if !ok {
		t.Fatalf("expected *AppError, got %T", err)
	}
	if appErr.Code != errors.ErrCodeValidation {
		t.Errorf("expected code %s, got %s", errors.ErrCodeValidation, appErr.Code)
	}
	fields, ok := appErr.Details["fields"].([]FieldError)
	if !ok {
		t.Fatalf("expected []FieldError details, got %T", appErr.Details["fields"])
	}
	if len(fields) != 2 {
		t.Errorf("expected 2 field errors, got %d", len(fields))
	}
}

func TestValidate_NonStruct(t *testing.T) {
	err := Validate("not a struct")
	if err == nil {
		t.Fatal("expected error for non-struct input")
	}
	if !errors.IsAppError(err) {
		t.Errorf("expected *AppError, got %T", err)
	}
}

func TestValidatorRequired(t *testing.T) {
	v := New()
	v.Required("name", "payments")
	if v.HasErrors() {
		t.Error("expected no errors for valid input")
	}

	v2 := New()
	v2.Required("name", "   ")
	if !v2.HasErrors() {
		t.Error("expected error for whitespace-only required field")
	}
}

func TestValidatorRange(t *testing.T) {
	v := New()
	v.Range("failure_rate", 0.3, 0, 1)
	if v.HasErrors() {
		t.Error("expected no error for value in range")
	}

	v2 := New()
	v2.Range("failure_rate", 1.5, 0, 1)
	if !v2.HasErrors() {
		t.Fatal("expected error for value out of range")
	}
	if v2.Errors()[0].Message != "must be between 0 and 1" {
		t.Errorf("unexpected message %q", v2.Errors()[0].Message)
	}
}

func TestValidatorMin(t *testing.T) {
	v := New()
	v.Min("requests", 0, 1)
	if !v.HasErrors() {
		t.Error("expected error below minimum")
	}
}

func TestValidatorOneOf(t *testing.T) {
	allowed := []string{"minimal", "standard"}

	v := New()
	v.OneOf("tier", "", allowed)
	v.OneOf("tier", "standard", allowed)
	if v.HasErrors() {
		t.Errorf("expected no errors, got %v", v.Errors())
	}

	v2 := New()
	v2.OneOf("tier", "huge", allowed)
	if !v2.HasErrors() {
		t.Error("expected error for value not in allowed list")
	}
}

func TestValidatorCustom(t *testing.T) {
	v := New().
		Custom(true, "a", "never").
		Custom(false, "retry.max_delay", "must not be below retry.base_delay")

	if len(v.Errors()) != 1 {
		t.Fatalf("expected 1 error, got %d", len(v.Errors()))
	}
	err := v.Validate()
	if err == nil || !strings.Contains(err.Error(), "retry.max_delay: must not be below retry.base_delay") {
		t.Errorf("unexpected error %v", err)
	}
}

func TestValidatorValidate_NoErrors(t *testing.T) {
	if err := New().Validate(); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestToSnakeCase(t *testing.T) {
	tests := map[string]string{
		"BucketSize": "bucket_size",
		"Name":       "name",
		"maxWait":    "max_wait",
	}
	for in, want := range tests {
		if got := toSnakeCase(in); got != want {
			t.Errorf("toSnakeCase(%q): expected %q, got %q", in, want, got)
		}
	}
}
