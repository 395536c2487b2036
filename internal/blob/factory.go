package blob

import (
	"context"
	"database/sql"
	"fmt"
)

// Options selects and configures a backend.
type Options struct {
	Driver string // db|s3|memory, default db
	S3     S3Config
}

// Open returns the Store named by opts.Driver.  db is only used by the
// db driver.
func Open(ctx context.Context, opts Options, db *sql.DB) (Store, error) {
	driver := opts.Driver
	if driver == "" {
		driver = string(DriverDB)
	}
	switch Driver(driver) {
	case DriverDB:
		if db == nil {
			return nil, fmt.Errorf("blob: db driver needs a database handle")
		}
		return NewSQL(db), nil
	case DriverS3:
		return NewS3(ctx, opts.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
