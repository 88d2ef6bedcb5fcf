// Package keyspace classifies raw Redis key text into the fixed set of key
// families used by the signup funnels.
//
// Every consumer (reconciler, repair utility, signup writer) goes through
// Parse and the builders below; no other package splits key strings.
package keyspace

import (
	"strconv"
	"strings"
)

// Funnel identifies which signup flow a key belongs to.
type Funnel string

const (
	Waitlist   Funnel = "waitlist"
	Newsletter Funnel = "newsletter"
)

// Funnels lists every known funnel in a stable order.
var Funnels = []Funnel{Waitlist, Newsletter}

// Valid reports whether f is a known funnel.
func (f Funnel) Valid() bool {
	return f == Waitlist || f == Newsletter
}

// Kind is the closed set of key families.
type Kind int

const (
	Unknown Kind = iota
	HashEntry
	EmailFragment
	NameFragment
	InterestFragment
	AggregateSet
)

var kindNames = map[Kind]string{
	Unknown:          "unknown",
	HashEntry:        "hash_entry",
	EmailFragment:    "email_fragment",
	NameFragment:     "name_fragment",
	InterestFragment: "interest_fragment",
	AggregateSet:     "aggregate_set",
}

func (k Kind) String() string { return kindNames[k] }

// Shape is a Redis value type as reported by TYPE.
type Shape string

const (
	ShapeNone   Shape = "none"
	ShapeString Shape = "string"
	ShapeHash   Shape = "hash"
	ShapeSet    Shape = "set"
)

// Aggregate set members.
const (
	SetEmails    = "emails"
	SetNames     = "names"
	SetInterests = "interests"
)

// Key is a parsed key. Only the fields relevant to Kind are set.
type Key struct {
	Raw      string
	Kind     Kind
	Funnel   Funnel
	ID       string // HashEntry and fragments
	Interest string // InterestFragment label
	Set      string // AggregateSet: emails, names or interests
}

// Parse classifies a raw key. Keys that do not match a known family come back
// with Kind Unknown.
func Parse(raw string) Key {
	unknown := Key{Raw: raw, Kind: Unknown}

	parts := strings.Split(raw, ":")
	if len(parts) < 2 {
		return unknown
	}
	funnel := Funnel(parts[0])
	if !funnel.Valid() {
		return unknown
	}
	key := Key{Raw: raw, Funnel: funnel}

	switch {
	case len(parts) == 2:
		switch parts[1] {
		case SetEmails, SetNames, SetInterests:
			key.Kind = AggregateSet
			key.Set = parts[1]
			return key
		}
		if !isID(parts[1]) {
			return unknown
		}
		key.Kind = HashEntry
		key.ID = parts[1]
		return key

	case len(parts) == 3 && (parts[1] == "email" || parts[1] == "name"):
		if !isID(parts[2]) {
			return unknown
		}
		key.ID = parts[2]
		key.Kind = EmailFragment
		if parts[1] == "name" {
			key.Kind = NameFragment
		}
		return key

	case len(parts) >= 4 && parts[1] == "interest":
		id := parts[len(parts)-1]
		label := strings.Join(parts[2:len(parts)-1], ":")
		if !isID(id) || label == "" {
			return unknown
		}
		key.Kind = InterestFragment
		key.ID = id
		key.Interest = label
		return key
	}

	return unknown
}

// ExpectedShape is the Redis type the naming convention declares for k.
func (k Key) ExpectedShape() Shape {
	switch k.Kind {
	case HashEntry:
		return ShapeHash
	case EmailFragment, NameFragment, InterestFragment:
		return ShapeString
	case AggregateSet:
		return ShapeSet
	default:
		return ""
	}
}

// Timestamp returns the epoch value encoded in the key's id segment.
func (k Key) Timestamp() int64 {
	ts, _ := strconv.ParseInt(k.ID, 10, 64)
	return ts
}

// EntryKey builds "{funnel}:{id}".
func EntryKey(f Funnel, id string) string { return string(f) + ":" + id }

// EmailKey builds "{funnel}:email:{id}".
func EmailKey(f Funnel, id string) string { return string(f) + ":email:" + id }

// NameKey builds "{funnel}:name:{id}".
func NameKey(f Funnel, id string) string { return string(f) + ":name:" + id }

// InterestKey builds "{funnel}:interest:{label}:{id}".
func InterestKey(f Funnel, label, id string) string {
	return string(f) + ":interest:" + label + ":" + id
}

// SetKey builds "{funnel}:{set}", e.g. "waitlist:emails".
func SetKey(f Funnel, set string) string { return string(f) + ":" + set }

func isID(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
