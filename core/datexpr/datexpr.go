// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package datexpr resolves symbolic date expressions.

A date expression is either the marker "today()", the marker followed by a
day offset ("today()+5", "today()-3"), or a date literal. Resolution yields
the instant together with the boundaries of its calendar day. Day
boundaries are computed in the resolver's location, which defaults to the
local time zone of the process.
*/
package datexpr

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Marker is the symbolic "now" marker
const Marker = "today()"

var offsetPattern = regexp.MustCompile(`^today\(\)\s*([+-])\s*(\d+)$`)

// literal layouts, tried in order
var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
}

// Resolution is a resolved date expression. If Valid is false, the
// expression could not be resolved and all times are zero.
type Resolution struct {
	Instant    time.Time
	StartOfDay time.Time
	EndOfDay   time.Time
	Valid      bool
}

// UnresolvedDateError is returned by ResolveStrict for expressions that are
// neither a marker expression nor a date literal
type UnresolvedDateError struct {
	Expression string
}

func (e *UnresolvedDateError) Error() string {
	return fmt.Sprintf("cannot resolve date expression '%s'", e.Expression)
}

// Resolver resolves date expressions relative to Now in Location. The zero
// value uses time.Now and time.Local.
type Resolver struct {
	Now      func() time.Time
	Location *time.Location
}

// IsToken returns true if s is a marker expression, i.e. "today()" with or
// without a day offset
func IsToken(s string) bool {
	s = strings.TrimSpace(s)
	return s == Marker || offsetPattern.MatchString(s)
}

// Resolve resolves expression. Unresolvable expressions yield an invalid
// resolution.
func (r Resolver) Resolve(expression string) Resolution {
	instant, ok := r.instant(expression)
	if !ok {
		return Resolution{}
	}
	return r.resolution(instant)
}

// ResolveStrict is like Resolve but returns an *UnresolvedDateError for
// unresolvable expressions
func (r Resolver) ResolveStrict(expression string) (Resolution, error) {
	res := r.Resolve(expression)
	if !res.Valid {
		return res, &UnresolvedDateError{Expression: expression}
	}
	return res, nil
}

// ResolveTime returns the resolution for an already known instant
func (r Resolver) ResolveTime(t time.Time) Resolution {
	return r.resolution(t)
}

func (r Resolver) instant(expression string) (time.Time, bool) {
	expression = strings.TrimSpace(expression)
	now := r.now()
	if expression == Marker {
		return now, true
	}
	if match := offsetPattern.FindStringSubmatch(expression); match != nil {
		days, err := strconv.Atoi(match[2])
		if err != nil {
			return time.Time{}, false
		}
		if match[1] == "-" {
			days = -days
		}
		return now.AddDate(0, 0, days), true
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, expression, r.location()); err == nil {
			return t.In(r.location()), true
		}
	}
	return time.Time{}, false
}

func (r Resolver) resolution(t time.Time) Resolution {
	t = t.In(r.location())
	year, month, day := t.Date()
	start := time.Date(year, month, day, 0, 0, 0, 0, r.location())
	end := time.Date(year, month, day, 23, 59, 59, int(999*time.Millisecond), r.location())
	return Resolution{
		Instant:    t,
		StartOfDay: start,
		EndOfDay:   end,
		Valid:      true,
	}
}

func (r Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now().In(r.location())
	}
	return time.Now().In(r.location())
}

func (r Resolver) location() *time.Location {
	if r.Location != nil {
		return r.Location
	}
	return time.Local
}
