// Package firetime tracks trigger fire times and records them
// asynchronously so recording never blocks a fire.
package firetime

import "time"

// Info carries the fire times surrounding a single trigger fire:
// the previous fire, the one being processed, and the next scheduled
// one. Handlers receive it so schedule-relative jobs can compute their
// data windows.
type Info struct {
	Prev    *time.Time `json:"prev,omitempty"`
	Current time.Time  `json:"current"`
	Next    *time.Time `json:"next,omitempty"`
}
