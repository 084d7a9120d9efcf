// Package redisstore implements core.Repository on Redis.
//
// All keys are namespaced with an instance name so several meshes can share
// one Redis server. Negotiation turns live in their own list and are
// appended with RPUSH, so concurrent turns never overwrite each other.
// Guarded updates (team state, negotiation resolution) use WATCH/MULTI.
// Every appended bus message is also published on a per-workspace channel
// for out-of-process observers.
package redisstore
