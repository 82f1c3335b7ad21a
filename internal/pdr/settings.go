package pdr

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// Option keys under which ScheduleConfig is persisted in the host options table.
const (
	OptionAutoExport = "pdr_backups_cron_backup"
	OptionEmail      = "pdr_backups_email"
	// OptionCleanFiles stores the inverse of RetainFilesAfterUninstall.
	OptionCleanFiles = "pdr_backups_clean_files"
)

// ScheduleConfig is the process-wide backup schedule configuration.
type ScheduleConfig struct {
	AutoExportEnabled         bool
	NotifyEmail               string
	RetainFilesAfterUninstall bool
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Normalize trims the email address and validates the config.
// An address is required when auto-export is enabled.
func (c ScheduleConfig) Normalize() (ScheduleConfig, error) {
	c.NotifyEmail = strings.TrimSpace(c.NotifyEmail)

	if c.NotifyEmail == "" {
		if c.AutoExportEnabled {
			return c, &ValidationError{Field: "notify_email", Reason: "required when auto-export is enabled"}
		}
		return c, nil
	}

	if err := validate.Var(c.NotifyEmail, "email"); err != nil {
		return c, &ValidationError{Field: "notify_email", Reason: "not a valid email address"}
	}
	return c, nil
}
