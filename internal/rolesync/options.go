// Package rolesync backfills the roles and levels taxonomies from the legacy
// per-user role attributes.
package rolesync

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// DefaultBatchSize is the page size used when none is configured.
const DefaultBatchSize = 100

// MaxBatchSize keeps a fast-bulk page within one INSERT: each user adds up
// to two rows of two bind parameters, and Postgres allows 65535 parameters.
const MaxBatchSize = 16383

// ErrInvalidOptions wraps option validation failures.
var ErrInvalidOptions = errors.New("rolesync: invalid options")

// Options controls one sync run.
type Options struct {
	TenantID int64 `validate:"gt=0"`
	// BatchSize is capped at MaxBatchSize.
	BatchSize    int `validate:"gte=1,lte=16383"`
	Offset       int `validate:"gte=0"`
	Limit        int `validate:"gte=0"`
	Verbose      bool
	FastPopulate bool
}

var validate = validator.New()

// Validate checks the option ranges.
func (o Options) Validate() error {
	err := validate.Struct(o)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidOptions, strings.Join(parts, ", "))
}

// StrategyName returns the name of the strategy the options select.
func (o Options) StrategyName() string {
	if o.FastPopulate {
		return StrategyFastBulk
	}
	return StrategyIncremental
}
