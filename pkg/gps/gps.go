// Package gps defines the optional GPS source contract and the Fix
// data it reports: latitude/longitude/altitude/satellite count/fix
// quality/timestamp.
package gps

import "time"

// FixQuality grades a GPS fix from uninitialized through 3D-locked.
type FixQuality int8

const (
	FixNotInitialized FixQuality = -2
	FixError          FixQuality = -1
	FixNotSeen        FixQuality = 0
	FixNone           FixQuality = 1
	Fix2D             FixQuality = 2
	Fix3D             FixQuality = 3
)

// Fix is the latest known position reported by a Source.
type Fix struct {
	LatE7     int32
	LonE7     int32
	AltM      int32
	Sats      byte
	Quality   FixQuality
	Timestamp time.Time
}

// HasPosition reports whether Fix carries a usable 2D-or-better
// position.
func (f Fix) HasPosition() bool { return f.Quality >= Fix2D }

// Source is the optional external GPS collaborator. Poll returns the
// most recently known fix; ok is false if no fix has ever been
// obtained.
type Source interface {
	Poll() (Fix, bool)
}
