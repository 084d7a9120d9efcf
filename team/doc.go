// Package team implements the micro-team engine: ephemeral, workspace
// scoped groups of agents. A team moves from active to dissolved exactly
// once; dissolved teams stay readable for audit but cannot be reactivated
// or have their state changed.
package team
