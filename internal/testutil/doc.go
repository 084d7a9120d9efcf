// Package testutil contains helper builders and utilities used across tests
// to reduce boilerplate when constructing mesh objects (actions, profiles),
// a scriptable stub oracle, and the repository contract suite every storage
// backend runs. They are not intended for production usage.
package testutil
