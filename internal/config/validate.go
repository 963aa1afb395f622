package config

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	gberrors "github.com/vnykmshr/goboot/pkg/common/errors"
	"github.com/vnykmshr/goboot/pkg/common/logging"
	"github.com/vnykmshr/goboot/pkg/common/validation"
	"github.com/vnykmshr/goboot/pkg/scaling/reconcile"
)

// ValidationErrors collects every problem found by Validate.
type ValidationErrors []error

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err)
	}
	return sb.String()
}

// Unwrap exposes the individual errors to errors.Is and errors.As.
func (e ValidationErrors) Unwrap() []error { return e }

// ValidLogFormats returns the accepted logging.format values.
func ValidLogFormats() []string {
	return []string{logging.FormatConsole, logging.FormatJSON}
}

// Validate checks c and returns ValidationErrors, or nil when c is usable.
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	add(c.validateApp())
	for _, point := range c.MountPoints() {
		add(validation.ValidateMountPath("config", "app.mounts", point))
		add(validation.ValidateNotEmpty("config", "app.mounts."+point, c.App.Mounts[point]))
	}
	for _, path := range c.App.Run {
		add(validation.ValidateMountPath("config", "app.run", path))
	}

	add(c.validateWorker())
	if c.Worker.Reconcile != "" {
		add(reconcile.Validate(c.Worker.Reconcile))
	}
	add(validation.ValidateNonNegative("config", "worker.respawn_rate", c.Worker.RespawnRate))
	add(validation.ValidatePositive("config", "worker.respawn_burst", c.Worker.RespawnBurst))
	add(validation.ValidateNonNegative("config", "worker.grace_period", c.Worker.GracePeriod.Seconds()))

	if _, ok := logging.ParseLevel(c.Logging.Level); !ok && c.Logging.Level != "" {
		add(gberrors.NewValidationError("config", "logging.level", c.Logging.Level, "unknown level").
			WithHint("use trace, debug, info, warn, error or disabled"))
	}
	if c.Logging.Format != "" && !slices.Contains(ValidLogFormats(), c.Logging.Format) {
		add(gberrors.NewValidationError("config", "logging.format", c.Logging.Format,
			"must be one of: "+strings.Join(ValidLogFormats(), ", ")))
	}

	if c.Metrics.Enabled {
		add(validation.ValidateNotEmpty("config", "metrics.addr", c.Metrics.Addr))
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			add(gberrors.NewValidationError("config", "metrics.path", c.Metrics.Path, "must start with /"))
		}
	}

	add(validation.ValidateNonNegativeInt("config", "redis.db", c.Redis.DB))
	add(validation.ValidateNonNegative("config", "redis.timeout", c.Redis.Timeout.Seconds()))

	if len(errs) == 0 {
		return nil
	}
	return errs
}

func (c *Config) validateApp() error {
	if err := validation.ValidateNotEmpty("config", "app.name", c.App.Name); err != nil {
		return err
	}
	if err := validation.ValidateNonNegativeInt("config", "app.max_depth", c.App.MaxDepth); err != nil {
		return err
	}
	if err := validation.ValidateNonNegativeInt("config", "app.preload_workers", c.App.PreloadWorkers); err != nil {
		return err
	}
	if _, err := regexp.Compile(c.App.Mask); err != nil {
		return gberrors.NewValidationError("config", "app.mask", c.App.Mask, err.Error())
	}
	return nil
}

func (c *Config) validateWorker() error {
	if _, err := c.Target(); err != nil {
		return err
	}
	return nil
}
