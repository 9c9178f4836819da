package config

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/go-cmp/cmp"

	"github.com/doeshing/flowcard/internal/domain"
	"github.com/doeshing/flowcard/internal/ports"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		d, err := time.ParseDuration(fl.Field().String())
		return err == nil && d > 0
	})
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate ensures config structure is consistent.
func Validate(cfg domain.Config) error {
	if err := validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, describe(fe))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Catalog.URL == "" && cfg.Catalog.File == "" {
		return errors.New("invalid config: catalog.url or catalog.file must be set")
	}
	return nil
}

func describe(fe validator.FieldError) string {
	path := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return path + " is required"
	case "url":
		return fmt.Sprintf("%s must be a URL, got %q", path, fe.Value())
	case "duration":
		return fmt.Sprintf("%s must be a positive duration like 2s or 5m, got %q", path, fe.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s, got %q", path, fe.Param(), fe.Value())
	case "gte":
		return fmt.Sprintf("%s must be >= %s", path, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", path, fe.Tag())
	}
}

// Diff reports the differences between two configurations, empty when equal.
func Diff(from, to domain.Config) string {
	return cmp.Diff(from, to)
}

// ValidatedProvider rejects configurations that fail Validate.
type ValidatedProvider struct {
	Inner ports.ConfigProvider
}

// Load implements ports.ConfigProvider.
func (p ValidatedProvider) Load(ctx context.Context) (domain.Config, error) {
	cfg, err := p.Inner.Load(ctx)
	if err != nil {
		return domain.Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return domain.Config{}, err
	}
	return cfg, nil
}

var _ ports.ConfigProvider = ValidatedProvider{}
