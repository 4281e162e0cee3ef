// internal/domain/cart/migrator.go
package cart

import (
	"context"

	"github.com/sirupsen/logrus"
)

const migrationRetries = 2

// MigrationFailure records a guest item the user cart did not accept
type MigrationFailure struct {
	Key Key
	Err error
}

// PendingMigration is a guest item whose add was sent but never confirmed. It
// stays in the guest cart with its migration id, so the next login resends the
// same add.
type PendingMigration struct {
	Key         Key
	MigrationID string
	Err         error
}

// MigrationReport summarizes a guest to user migration
type MigrationReport struct {
	Migrated []Key
	Failed   []MigrationFailure
	Pending  []PendingMigration
	// CleanupErr is set when migrated items could not be removed from the
	// guest cart; they may be migrated again on the next login.
	CleanupErr error
}

// Complete reports whether every guest item moved over
func (r MigrationReport) Complete() bool {
	return len(r.Failed) == 0 && len(r.Pending) == 0 && r.CleanupErr == nil
}

// Migrator replays a guest cart into a user cart
type Migrator struct {
	log logrus.FieldLogger
}

// NewMigrator creates a new migrator
func NewMigrator(log logrus.FieldLogger) *Migrator {
	return &Migrator{log: log}
}

type keyedAdder interface {
	AddKeyed(ctx context.Context, mutationID string, item CartItem) error
}

type migrationTagger interface {
	AssignMigrationIDs(ctx context.Context) ([]CartItem, error)
}

// Migrate adds every guest item to user in guest order, merging on key. Items
// that migrated are removed from guest; items that failed or are still pending
// stay there.
func (m *Migrator) Migrate(ctx context.Context, guest, user Store) MigrationReport {
	var report MigrationReport

	items := guest.List()
	if tagger, ok := guest.(migrationTagger); ok {
		tagged, err := tagger.AssignMigrationIDs(ctx)
		if err != nil {
			// without stored ids a resent add could be applied twice
			m.log.WithError(err).Warn("Guest cart not migrated")
			for _, item := range items {
				report.Failed = append(report.Failed, MigrationFailure{Key: item.Key(), Err: err})
			}
			return report
		}
		items = tagged
	}

	for _, item := range items {
		item.Invalid = false
		key := item.Key()
		id := item.MigrationID

		err := m.add(ctx, user, item)
		switch {
		case err == nil:
			report.Migrated = append(report.Migrated, key)
		case IsPending(err) && id != "":
			m.log.WithError(err).WithFields(logrus.Fields{
				"key":          key.String(),
				"migration_id": id,
			}).Warn("Guest item migration unconfirmed")
			report.Pending = append(report.Pending, PendingMigration{Key: key, MigrationID: id, Err: err})
		default:
			m.log.WithError(err).WithField("key", key.String()).Warn("Guest item not migrated")
			report.Failed = append(report.Failed, MigrationFailure{Key: key, Err: err})
		}
	}

	if len(report.Failed) == 0 && len(report.Pending) == 0 {
		if len(report.Migrated) > 0 {
			report.CleanupErr = guest.Clear(ctx)
		}
	} else {
		for _, key := range report.Migrated {
			if err := guest.Remove(ctx, key); err != nil && report.CleanupErr == nil {
				report.CleanupErr = err
			}
		}
	}

	m.log.WithFields(logrus.Fields{
		"migrated": len(report.Migrated),
		"failed":   len(report.Failed),
		"pending":  len(report.Pending),
	}).Info("Guest cart migrated")

	return report
}

// add sends item under its migration id and retries an unconfirmed add under
// the same id
func (m *Migrator) add(ctx context.Context, user Store, item CartItem) error {
	id := item.MigrationID
	item.MigrationID = ""

	adder, ok := user.(keyedAdder)
	if !ok || id == "" {
		return user.Add(ctx, item)
	}

	err := adder.AddKeyed(ctx, id, item)
	retrier, canRetry := user.(Retrier)
	for attempt := 0; canRetry && attempt < migrationRetries && IsPending(err); attempt++ {
		err = retrier.Retry(ctx, id)
	}
	return err
}
