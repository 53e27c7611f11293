/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package metacache

import "github.com/7ergbb/incubator-iotdb/tsfile"

// Key identifies one cached series metadata record: a series within a device
// within a data file. Two keys address the same cache slot iff all three
// fields are equal.
type Key struct {
	FilePath    string
	Device      string
	Measurement string
}

// SeriesPath returns the full series path of the key within its file.
func (k Key) SeriesPath() string {
	return tsfile.SeriesPath(k.Device, k.Measurement)
}
