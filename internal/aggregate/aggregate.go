// Package aggregate folds reconciled signup records into deduplicated email,
// name and interest sets.
package aggregate

import (
	"sort"

	"github.com/ledgerline/site/internal/keyspace"
	"github.com/ledgerline/site/internal/signup"
)

// Stats are the headline counts shown after an export.
type Stats struct {
	WaitlistEmails   int `json:"waitlistEmails"`
	NewsletterEmails int `json:"newsletterEmails"`
	UniqueEmails     int `json:"uniqueEmails"`
	WaitlistNames    int `json:"waitlistNames"`
	NewsletterNames  int `json:"newsletterNames"`
}

// Result holds sorted unique values. Comparison is exact and case-sensitive.
type Result struct {
	WaitlistEmails   []string
	NewsletterEmails []string
	UniqueEmails     []string
	WaitlistNames    []string
	NewsletterNames  []string
	AllNames         []string
	Interests        map[string]int
	Stats            Stats
}

// InterestCount is one row of the interest breakdown.
type InterestCount struct {
	Label string `json:"interest"`
	Count int    `json:"count"`
}

type set map[string]struct{}

func (s set) add(v string) {
	if v != "" {
		s[v] = struct{}{}
	}
}

func (s set) sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Aggregate builds the deduplicated view of records. Interest counts take the
// newsletter records' interest field plus tags, each (funnel, id, label)
// counted once. Feeding the same records twice gives the same result.
func Aggregate(records []signup.Record, tags ...signup.InterestTag) Result {
	emails := map[keyspace.Funnel]set{keyspace.Waitlist: {}, keyspace.Newsletter: {}}
	names := map[keyspace.Funnel]set{keyspace.Waitlist: {}, keyspace.Newsletter: {}}
	unique := set{}
	allNames := set{}
	seen := make(map[signup.InterestTag]struct{})

	for _, rec := range records {
		if !rec.Complete() || !rec.Funnel.Valid() {
			continue
		}
		emails[rec.Funnel].add(rec.Email)
		names[rec.Funnel].add(rec.Name)
		unique.add(rec.Email)
		allNames.add(rec.Name)
		if rec.Funnel == keyspace.Newsletter && rec.Interest != "" {
			seen[signup.InterestTag{Funnel: rec.Funnel, ID: rec.ID, Label: rec.Interest}] = struct{}{}
		}
	}
	for _, tag := range tags {
		if tag.Label != "" {
			seen[tag] = struct{}{}
		}
	}

	interests := make(map[string]int)
	for tag := range seen {
		interests[tag.Label]++
	}

	res := Result{
		WaitlistEmails:   emails[keyspace.Waitlist].sorted(),
		NewsletterEmails: emails[keyspace.Newsletter].sorted(),
		UniqueEmails:     unique.sorted(),
		WaitlistNames:    names[keyspace.Waitlist].sorted(),
		NewsletterNames:  names[keyspace.Newsletter].sorted(),
		AllNames:         allNames.sorted(),
		Interests:        interests,
	}
	res.Stats = Stats{
		WaitlistEmails:   len(res.WaitlistEmails),
		NewsletterEmails: len(res.NewsletterEmails),
		UniqueEmails:     len(res.UniqueEmails),
		WaitlistNames:    len(res.WaitlistNames),
		NewsletterNames:  len(res.NewsletterNames),
	}
	return res
}

// RankedInterests returns interests by count descending, ties by label.
func (r Result) RankedInterests() []InterestCount {
	out := make([]InterestCount, 0, len(r.Interests))
	for label, n := range r.Interests {
		out = append(out, InterestCount{Label: label, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}
