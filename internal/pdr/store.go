package pdr

import "context"

// RecordStore reads and mutates personal data requests in the host content table.
// Implementations must return records in store-native order.
type RecordStore interface {
	// Find returns every record of the given category.
	Find(ctx context.Context, category Category) ([]Record, error)

	// Insert stores a new record and returns the ID the store assigned.
	// The record's slug determines its category; r.ID is ignored.
	Insert(ctx context.Context, r Record) (int64, error)

	// Delete removes the record with the given ID.
	Delete(ctx context.Context, id int64) error
}

// SettingsStore persists the process-wide ScheduleConfig in the host's key-value options.
type SettingsStore interface {
	Load(ctx context.Context) (ScheduleConfig, error)
	Save(ctx context.Context, cfg ScheduleConfig) error
	// Clear deletes every persisted option. A later Load returns the defaults.
	Clear(ctx context.Context) error
}
