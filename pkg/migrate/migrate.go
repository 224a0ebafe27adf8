package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strconv"

	"github.com/pressly/goose/v3"
)

// Runner applies goose migrations from fsys to a Postgres database.
type Runner struct {
	db   *sql.DB
	fsys fs.FS
}

// NewRunner binds db to fsys. A nil fsys selects the embedded ticketing schema.
func NewRunner(db *sql.DB, fsys fs.FS) (*Runner, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if fsys == nil {
		fsys = Migrations()
	}
	if err := Validate(fsys); err != nil {
		return nil, fmt.Errorf("invalid migrations: %w", err)
	}
	return &Runner{db: db, fsys: fsys}, nil
}

func (r *Runner) prepare() error {
	goose.SetBaseFS(r.fsys)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return nil
}

func (r *Runner) run(ctx context.Context, command string) error {
	if err := r.prepare(); err != nil {
		return err
	}
	// status output goes to stdout via goose's logger
	if err := goose.RunContext(ctx, command, r.db, "."); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}

// Up applies pending migrations and then checks the objects the booking paths rely on.
func (r *Runner) Up(ctx context.Context) error {
	if err := r.run(ctx, "up"); err != nil {
		return err
	}
	return r.Verify(ctx)
}

func (r *Runner) Down(ctx context.Context) error {
	return r.run(ctx, "down")
}

func (r *Runner) Status(ctx context.Context) error {
	return r.run(ctx, "status")
}

// ToVersion moves the schema up or down to target (YYYYMMDDHHMMSS).
func (r *Runner) ToVersion(ctx context.Context, target string) error {
	if target == "" {
		return fmt.Errorf("target version is required")
	}
	version, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", target, err)
	}
	if err := r.prepare(); err != nil {
		return err
	}

	current, err := goose.GetDBVersion(r.db)
	if err != nil {
		return fmt.Errorf("get db version: %w", err)
	}

	switch {
	case current == version:
		return nil
	case current < version:
		if err := goose.UpToContext(ctx, r.db, ".", version); err != nil {
			return fmt.Errorf("goose up-to %d: %w", version, err)
		}
	default:
		if err := goose.DownToContext(ctx, r.db, ".", version); err != nil {
			return fmt.Errorf("goose down-to %d: %w", version, err)
		}
	}
	return nil
}

// Verify fails when a relation, index or function required by reservations, refunds or the
// outbox is missing from the connected database.
func (r *Runner) Verify(ctx context.Context) error {
	return verifyObjects(ctx, catalogLookup(r.db))
}
