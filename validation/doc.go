// Package validation validates loadguard configuration.
//
// Struct tags cover per-field bounds:
//
//	type RateLimitConfig struct {
//	    BucketSize int `mapstructure:"bucket_size" validate:"gte=1"`
//	}
//	err := validation.Validate(cfg)
//
// The collector covers relations between fields:
//
//	v := validation.New()
//	v.Custom(cfg.MaxDelay >= cfg.BaseDelay, "retry.max_delay", "must not be below retry.base_delay")
//	err := v.Validate()
//
// Both return an *errors.AppError with code VALIDATION_ERROR and the failing
// fields under the "fields" detail.
package validation
