/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package tsfile implements reading and writing of per-series index metadata
// stored in time-series data files: summary statistics for each measurement,
// a bloom filter for cheap existence checks, and a process-wide registry of
// open file readers.
package tsfile
