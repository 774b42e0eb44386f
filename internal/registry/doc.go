// Package registry maintains the deduplicated set of pack sizes the calculator
// solves against. MemoryRegistry serves a single process; RedisRegistry shares
// the set between instances.
package registry
