// Package sqlite implements core.Repository on SQLite (modernc.org/sqlite,
// pure Go). Schema changes ship as embedded, numbered migrations recorded
// in schema_migrations. Negotiation turns are child rows inserted with a
// status-guarded INSERT ... SELECT, so appends never rewrite the conversation.
package sqlite
