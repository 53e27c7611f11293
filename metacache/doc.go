/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package metacache provides an in-process cache of per-series index metadata
// read from time-series data files. The cache is bounded by an approximate
// memory budget rather than an entry count, evicts least-recently-used
// entries, and resolves misses through a bloom filter check followed by a
// single batched read from the backing file.
package metacache
