// Package postgres implements the store using pgx/v5 with raw SQL.
// Features: conditional stage updates guarded by resource_version, a
// partial unique index enforcing one running instance per work unit,
// ON CONFLICT DO NOTHING lock acquisition, and embedded SQL migrations.
package postgres
