// Package sqlinline holds every SQL statement the service runs. Each one
// starts with a "--sql <uuid>" marker that the runner logs and sqllint checks.
package sqlinline

// Schema lists the idempotent DDL applied at startup, in order.
var Schema = []string{
	QCreateIntegrationTokensTable,
	QCreateBatchRunsTable,
}
