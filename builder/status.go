/*
Copyright © 2025 Jayson Grace <jayson.e.grace@gmail.com>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/

package builder

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a build or push.
type Status string

// Status values.
const (
	StatusNew          Status = "NEW"
	StatusInitializing Status = "INITIALIZING"
	StatusBuilding     Status = "BUILDING"
	StatusPushing      Status = "PUSHING"
	StatusFinishing    Status = "FINISHING"
	StatusCompleted    Status = "COMPLETED"
	StatusFailed       Status = "FAILED"
	StatusDeleted      Status = "DELETED"
	StatusDeleteFailed Status = "DELETEFAILED"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusNew,
	StatusInitializing,
	StatusBuilding,
	StatusPushing,
	StatusFinishing,
	StatusCompleted,
	StatusFailed,
	StatusDeleted,
	StatusDeleteFailed,
}

// transitions holds the forward edges. FAILED from any non-terminal state and
// same-state rewrites are handled in CanTransition.
var transitions = map[Status][]Status{
	StatusNew:          {StatusInitializing, StatusBuilding, StatusPushing},
	StatusInitializing: {StatusBuilding, StatusPushing},
	StatusBuilding:     {StatusFinishing, StatusCompleted, StatusDeleted, StatusDeleteFailed},
	StatusPushing:      {StatusFinishing, StatusCompleted, StatusDeleted, StatusDeleteFailed},
	StatusFinishing:    {StatusCompleted},
}

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusDeleted, StatusDeleteFailed:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

func (s Status) String() string { return string(s) }

// CanTransition reports whether a status may move from one value to another.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() || from.Terminal() {
		return false
	}
	if to == StatusFailed || to == from {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseStatus converts a case-insensitive name to a Status.
func ParseStatus(name string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(name)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q", name)
	}
	return s, nil
}
