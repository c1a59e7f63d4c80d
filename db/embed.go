// Package db provides the embedded database schema.
package db

import _ "embed"

// Schema contains the DDL statements for all coupon engine tables. The
// statements are idempotent (IF NOT EXISTS) and run at startup.
//
//go:embed migrations/001_schema.sql
var Schema string
