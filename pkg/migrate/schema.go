package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"go.uber.org/multierr"
)

//go:embed migrations/*.sql
var embedded embed.FS

// DefaultDir is where `cmd/migrate -cmd=create` writes new files, relative to the repo root.
const DefaultDir = "pkg/migrate/migrations"

// Migrations returns the ticketing schema compiled into the binary.
func Migrations() fs.FS {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		// fs.Sub only fails on an invalid literal path.
		panic(err)
	}
	return sub
}

type objectKind string

const (
	objectRelation objectKind = "relation"
	objectFunction objectKind = "function"
)

type schemaObject struct {
	kind objectKind
	name string
}

// requiredObjects are the relations and functions the reservation, refund and outbox paths
// depend on. Indexes are listed when a code path relies on their uniqueness.
var requiredObjects = []schemaObject{
	{objectRelation, "events"},
	{objectRelation, "ticket_tiers"},
	{objectRelation, "bookings"},
	{objectRelation, "ux_bookings_qr_code"},
	{objectRelation, "inventory_movements"},
	{objectRelation, "ux_inventory_movements_booking_kind"},
	{objectRelation, "ledger_events"},
	{objectRelation, "ux_ledger_events_open"},
	{objectRelation, "outbox_events"},
	{objectRelation, "outbox_dlq"},
	{objectFunction, "reserve_ticket_inventory(uuid, uuid, integer, uuid)"},
}

type existsFunc func(ctx context.Context, obj schemaObject) (bool, error)

func catalogLookup(db *sql.DB) existsFunc {
	return func(ctx context.Context, obj schemaObject) (bool, error) {
		query := `SELECT to_regclass($1) IS NOT NULL`
		if obj.kind == objectFunction {
			query = `SELECT to_regprocedure($1) IS NOT NULL`
		}
		var ok bool
		if err := db.QueryRowContext(ctx, query, obj.name).Scan(&ok); err != nil {
			return false, fmt.Errorf("lookup %s %s: %w", obj.kind, obj.name, err)
		}
		return ok, nil
	}
}

// verifyObjects reports every required object that is absent, not just the first.
func verifyObjects(ctx context.Context, exists existsFunc) error {
	var errs error
	for _, obj := range requiredObjects {
		ok, err := exists(ctx, obj)
		if err != nil {
			return err
		}
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf("missing %s %s", obj.kind, obj.name))
		}
	}
	return errs
}
