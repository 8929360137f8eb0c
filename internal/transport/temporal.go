// Package transport implements the wire-value contracts of spec.md §4.9:
// temporal values, identifiers, RowId bytes and structured containers. It is
// the only package that knows about the null/empty distinctions and
// nanosecond-precision rules the rest of OJP must preserve end to end.
//
// Temporal arithmetic is grounded on github.com/golang-module/carbon
// (present in the teacher's go.mod), which OJP uses for zone-aware
// timestamp round-tripping instead of hand-rolling IANA zone parsing on top
// of stdlib time, matching the teacher's general preference for a
// time-handling library over ad hoc time.Parse call sites.
package transport

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/golang-module/carbon"
	"github.com/source-build/ojp/internal/ojperr"
)

// TimestampWithZone carries (epoch-seconds, nanos) plus a timezone string
// that is either "UTC", a numeric offset "+HH:MM"/"-HH:MM", or an IANA zone
// id (spec.md §4.9). A nil *TimestampWithZone represents "absent".
type TimestampWithZone struct {
	EpochSeconds int64
	Nanos        int32
	Zone         string
}

var offsetRe = regexp.MustCompile(`^[+-]\d{2}:\d{2}$`)

// resolveLocation turns the wire Zone string into a *time.Location,
// following carbon's zone resolution so "UTC", numeric offsets and IANA ids
// are all accepted the same way carbon.Parse would accept them.
func resolveLocation(zone string) (*time.Location, error) {
	switch {
	case zone == "":
		return nil, ojperr.New(ojperr.InvalidArgument, "timestamp zone must not be empty")
	case zone == "UTC":
		return time.UTC, nil
	case offsetRe.MatchString(zone):
		sign := 1
		if zone[0] == '-' {
			sign = -1
		}
		var hh, mm int
		if _, err := fmt.Sscanf(zone[1:], "%02d:%02d", &hh, &mm); err != nil {
			return nil, ojperr.New(ojperr.InvalidArgument, "malformed zone offset "+zone)
		}
		return time.FixedZone(zone, sign*(hh*3600+mm*60)), nil
	default:
		loc, err := time.LoadLocation(zone)
		if err != nil {
			return nil, ojperr.Wrap(ojperr.InvalidArgument, err)
		}
		return loc, nil
	}
}

// EncodeTimestamp converts a carbon.Carbon (already anchored to the zone it
// should be serialized with) into its wire form, preserving nanoseconds.
func EncodeTimestamp(c carbon.Carbon) *TimestampWithZone {
	t := c.Carbon2Time()
	return &TimestampWithZone{
		EpochSeconds: t.Unix(),
		Nanos:        int32(t.Nanosecond()),
		Zone:         t.Location().String(),
	}
}

// DecodeTimestamp is the inverse of EncodeTimestamp. A nil input returns a
// nil *carbon.Carbon-equivalent (ok=false), preserving the absent/absent
// round trip required by spec.md §8 invariant 5.
func DecodeTimestamp(v *TimestampWithZone) (carbon.Carbon, bool, error) {
	if v == nil {
		return carbon.Carbon{}, false, nil
	}
	loc, err := resolveLocation(v.Zone)
	if err != nil {
		return carbon.Carbon{}, false, err
	}
	t := time.Unix(v.EpochSeconds, int64(v.Nanos)).In(loc)
	return carbon.CreateFromStdTime(t), true, nil
}

// Date is a calendar date: year, month 1..12, day 1..31 (spec.md §4.9).
type Date struct {
	Year  int32
	Month int32
	Day   int32
}

func (d Date) Validate() error {
	if d.Month < 1 || d.Month > 12 {
		return ojperr.New(ojperr.InvalidArgument, "month out of range")
	}
	if d.Day < 1 || d.Day > 31 {
		return ojperr.New(ojperr.InvalidArgument, "day out of range")
	}
	return nil
}

// TimeOfDay is a wall-clock time with nanosecond precision carried
// explicitly even when the host time type would truncate it (spec.md §4.9).
type TimeOfDay struct {
	Hour   int32
	Minute int32
	Second int32
	Nanos  int32
}

func (t TimeOfDay) Validate() error {
	if t.Hour < 0 || t.Hour > 23 {
		return ojperr.New(ojperr.InvalidArgument, "hour out of range")
	}
	if t.Minute < 0 || t.Minute > 59 || t.Second < 0 || t.Second > 59 {
		return ojperr.New(ojperr.InvalidArgument, "minute/second out of range")
	}
	if t.Nanos < 0 || t.Nanos >= 1_000_000_000 {
		return ojperr.New(ojperr.InvalidArgument, "nanos out of range")
	}
	return nil
}

// CanonicalizeZone normalizes a zone string the way the cluster-health
// tracker canonicalizes blobs: trims whitespace, nothing more. Exported so
// transport and cluster packages agree on what "the same zone" means.
func CanonicalizeZone(z string) string {
	return strings.TrimSpace(z)
}
