// Package db embeds the SQL schema so binaries can migrate the database
// without shipping separate migration files.
package db

import _ "embed"

// Schema holds the full DDL: catalog, coupon, order, tracking, and payment
// tables plus their indexes.
//
//go:embed migrations/001_schema.sql
var Schema string
