// Package cache provides the content-addressed audio cache.
// It includes a count-bounded in-memory LRU (L1) and an optional
// byte-bounded, zstd-compressed disk tier (L2) that survives restarts.
package cache
