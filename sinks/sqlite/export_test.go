package sqlite

import (
	"context"
	"database/sql"
)

// RunMigrate runs migration on a database (exported for testing)
func RunMigrate(ctx context.Context, db *sql.DB) error {
	return migrate(ctx, db)
}

// NewFromDB creates a sink from an existing db connection (exported for testing)
// This allows testing the error path in newFromDB when prepareStatements fails
func NewFromDB(db *sql.DB) (*Sink, error) {
	return newFromDB(db, defaultConfig())
}

// WithIDs makes the sink hand out the given session ids in order (exported for testing)
func WithIDs(ids ...string) Option {
	return func(c *config) {
		c.newID = func() string {
			id := ids[0]
			ids = ids[1:]
			return id
		}
	}
}
