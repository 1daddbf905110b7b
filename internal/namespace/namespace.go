// Package namespace implements C11: effective-namespace resolution and
// scoped collection views for multi-tenant runs.
package namespace

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Scope is the tenancy boundary a resolved namespace is rooted at.
type Scope string

const (
	ScopeThread Scope = "thread"
	ScopeAgent  Scope = "agent"
	ScopeGlobal Scope = "global"
)

func (s Scope) valid() bool {
	switch s {
	case ScopeThread, ScopeAgent, ScopeGlobal:
		return true
	default:
		return false
	}
}

// Resolve computes the effective namespace string "{prefix}:{scope}:{id}".
// If prefix is empty, the leading colon is dropped. Resolve returns an
// error if scope is not one of the well-known values.
func Resolve(prefix string, scope Scope, id string) (string, error) {
	if !scope.valid() {
		return "", fmt.Errorf("namespace: invalid scope %q", scope)
	}
	if prefix == "" {
		return fmt.Sprintf("%s:%s", scope, id), nil
	}
	return fmt.Sprintf("%s:%s:%s", prefix, scope, id), nil
}

// MustResolve is Resolve, panicking on an invalid scope. Reserved for
// call sites where scope is a compile-time constant.
func MustResolve(prefix string, scope Scope, id string) string {
	ns, err := Resolve(prefix, scope, id)
	if err != nil {
		panic(err)
	}
	return ns
}

// SchemaConfig controls optional per-tenant DB-schema isolation: when Name
// is set, every SQL statement issued for the run executes with
// `SET LOCAL search_path TO <schema>, public`.
type SchemaConfig struct {
	Name          string
	AutoProvision bool
	MigrateOnInit func(ctx context.Context, db *sql.DB, schema string) error
}

// EnsureSchema creates cfg.Name if it does not exist (when AutoProvision is
// set) and runs cfg.MigrateOnInit idempotently against it. A zero-value
// SchemaConfig (no schema configured) is a no-op.
func EnsureSchema(ctx context.Context, db *sql.DB, cfg SchemaConfig) error {
	if cfg.Name == "" {
		return nil
	}
	if cfg.AutoProvision {
		_, err := db.ExecContext(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, quoteIdent(cfg.Name)))
		if err != nil {
			return fmt.Errorf("namespace: provision schema %s: %w", cfg.Name, err)
		}
	}
	if cfg.MigrateOnInit != nil {
		if err := cfg.MigrateOnInit(ctx, db, cfg.Name); err != nil {
			return fmt.Errorf("namespace: migrate schema %s: %w", cfg.Name, err)
		}
	}
	return nil
}

// WithSearchPath begins a transaction scoped to schema (if non-empty) via
// SET LOCAL search_path, so every statement run against tx sees schema
// ahead of the public search path. The transaction must still be committed
// or rolled back by the caller.
func WithSearchPath(ctx context.Context, db *sql.DB, schema string) (*sql.Tx, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("namespace: begin tx: %w", err)
	}
	if schema == "" {
		return tx, nil
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`SET LOCAL search_path TO %s, public`, quoteIdent(schema))); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("namespace: set search_path: %w", err)
	}
	return tx, nil
}

// quoteIdent double-quotes a Postgres identifier after removing any embedded
// double quotes, rather than attempting to escape them — schema names come
// from configuration, not untrusted input, but this keeps EnsureSchema from
// building injectable DDL. Embedded NUL bytes are left in place.
func quoteIdent(ident string) string {
	if strings.ContainsAny(ident, `"`+"\x00") {
		ident = strings.ReplaceAll(ident, `"`, "")
	}
	return `"` + ident + `"`
}
