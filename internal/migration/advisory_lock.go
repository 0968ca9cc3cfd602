package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// migrationLockKey identifies deskbill migrations among other advisory lock
// users sharing the database.
const migrationLockKey int64 = 4_117_902_553

type unlockFunc func(ctx context.Context) error

func acquireAdvisoryLock(ctx context.Context, sqlDB *sql.DB) (unlockFunc, error) {
	if sqlDB == nil {
		return nil, errors.New("advisory lock requires database handle")
	}

	// Session-level locks belong to one connection, so pin it for both calls.
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire advisory lock connection: %w", err)
	}

	var locked bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", migrationLockKey).Scan(&locked); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !locked {
		_ = conn.Close()
		return nil, errors.New("another migration process holds the advisory lock")
	}

	return func(unlockCtx context.Context) error {
		defer conn.Close()
		var released bool
		if err := conn.QueryRowContext(unlockCtx, "SELECT pg_advisory_unlock($1)", migrationLockKey).Scan(&released); err != nil {
			return fmt.Errorf("release advisory lock: %w", err)
		}
		if !released {
			return errors.New("advisory lock was not held by this session")
		}
		return nil
	}, nil
}
