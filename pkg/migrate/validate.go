package migrate

import (
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/multierr"
)

var sqlFileRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

const (
	upMarker   = "-- +goose Up"
	downMarker = "-- +goose Down"
	typeGuard  = "FROM PG_TYPE WHERE TYPNAME"
)

// ValidateDir validates the migrations stored on disk under dir.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}
	return Validate(os.DirFS(dir))
}

// Validate checks file naming and goose markers, and that every Up section can be re-run
// against a partially migrated database: tables and indexes use IF NOT EXISTS, functions use
// CREATE OR REPLACE and enum types sit behind a pg_type guard. All problems are reported.
func Validate(fsys fs.FS) error {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	var errs error
	seen := map[string]string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		m := sqlFileRe.FindStringSubmatch(name)
		if m == nil {
			errs = multierr.Append(errs, fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name))
			continue
		}
		if prev, ok := seen[m[1]]; ok {
			errs = multierr.Append(errs, fmt.Errorf("duplicate migration version %s in %q and %q", m[1], prev, name))
			continue
		}
		seen[m[1]] = name

		b, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("read %q: %w", name, err)
		}
		errs = multierr.Append(errs, checkMigration(name, string(b)))
	}
	return errs
}

func checkMigration(name, txt string) error {
	up := strings.Index(txt, upMarker)
	down := strings.Index(txt, downMarker)
	switch {
	case up < 0:
		return fmt.Errorf("migration %q missing %q", name, upMarker)
	case down < 0:
		return fmt.Errorf("migration %q missing %q", name, downMarker)
	case down < up:
		return fmt.Errorf("migration %q has Down before Up", name)
	}

	section := strings.ToUpper(txt[up:down])
	var errs error
	for i, line := range strings.Split(section, "\n") {
		stmt := strings.TrimSpace(line)
		var problem string
		switch {
		case strings.HasPrefix(stmt, "CREATE TABLE"),
			strings.HasPrefix(stmt, "CREATE INDEX"),
			strings.HasPrefix(stmt, "CREATE UNIQUE INDEX"):
			if !strings.Contains(stmt, "IF NOT EXISTS") {
				problem = "needs IF NOT EXISTS"
			}
		case strings.HasPrefix(stmt, "CREATE FUNCTION"):
			problem = "needs CREATE OR REPLACE"
		case strings.HasPrefix(stmt, "CREATE TYPE"):
			if !strings.Contains(section, typeGuard) {
				problem = "needs a pg_type existence guard"
			}
		}
		if problem != "" {
			errs = multierr.Append(errs, fmt.Errorf("migration %q up line %d: %s", name, i+1, problem))
		}
	}
	return errs
}

// latestVersion returns the highest migration version in fsys, or 0 when there is none.
func latestVersion(fsys fs.FS) (int64, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return 0, err
	}
	var latest int64
	for _, e := range entries {
		m := sqlFileRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		v, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse version of %q: %w", e.Name(), err)
		}
		if v > latest {
			latest = v
		}
	}
	return latest, nil
}
