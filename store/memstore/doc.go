// Package memstore is a process-local core.Repository. Every collection is
// guarded by a single RWMutex, which also makes turn appends and guarded
// team updates atomic. Suitable for tests, demos and single-process hosts.
package memstore
