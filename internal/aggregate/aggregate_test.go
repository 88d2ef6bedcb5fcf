package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ledgerline/site/internal/keyspace"
	"github.com/ledgerline/site/internal/signup"
)

func sample() []signup.Record {
	return []signup.Record{
		{ID: "1000", Email: "a@x.com", Name: "A", Interest: "tax", Timestamp: 1000, Funnel: keyspace.Newsletter},
		{ID: "2000", Email: "a@x.com", Name: "A", Timestamp: 2000, Funnel: keyspace.Waitlist},
		{ID: "3000", Email: "B@x.com", Name: "B", Timestamp: 3000, Funnel: keyspace.Waitlist},
		{ID: "4000", Email: "b@x.com", Interest: "payroll", Timestamp: 4000, Funnel: keyspace.Newsletter},
	}
}

func TestAggregateSharedEmailAcrossFunnels(t *testing.T) {
	res := Aggregate(sample()[:2])

	assert.Equal(t, []string{"a@x.com"}, res.UniqueEmails)
	assert.Equal(t, map[string]int{"tax": 1}, res.Interests)
	assert.Equal(t, Stats{WaitlistEmails: 1, NewsletterEmails: 1, UniqueEmails: 1, WaitlistNames: 1, NewsletterNames: 1}, res.Stats)
}

func TestAggregateCaseSensitive(t *testing.T) {
	res := Aggregate(sample())

	assert.Equal(t, []string{"B@x.com", "a@x.com", "b@x.com"}, res.UniqueEmails)
	assert.Equal(t, []string{"B@x.com", "a@x.com"}, res.WaitlistEmails)
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, res.NewsletterEmails)
	assert.Equal(t, []string{"A"}, res.NewsletterNames)
	assert.Equal(t, []string{"A", "B"}, res.AllNames)
}

func TestAggregateDuplicatedInputDoesNotInflate(t *testing.T) {
	records := sample()
	once := Aggregate(records)
	twice := Aggregate(append(append([]signup.Record{}, records...), records...))

	assert.Equal(t, once.Stats, twice.Stats)
	assert.Equal(t, once.Interests, twice.Interests)
	assert.Len(t, twice.UniqueEmails, len(once.UniqueEmails))
}

func TestAggregateOrderIndependent(t *testing.T) {
	records := sample()
	reversed := make([]signup.Record, len(records))
	for i, r := range records {
		reversed[len(records)-1-i] = r
	}
	assert.Equal(t, Aggregate(records), Aggregate(reversed))
}

func TestAggregateTagsCountOnce(t *testing.T) {
	records := sample()
	tags := []signup.InterestTag{
		{Funnel: keyspace.Newsletter, ID: "1000", Label: "tax"}, // same as the hash field
		{Funnel: keyspace.Newsletter, ID: "1000", Label: "payroll"},
		{Funnel: keyspace.Newsletter, ID: "9000", Label: "tax"},
	}

	res := Aggregate(records, tags...)
	assert.Equal(t, map[string]int{"tax": 2, "payroll": 2}, res.Interests)
	assert.Equal(t, []InterestCount{{"payroll", 2}, {"tax", 2}}, res.RankedInterests())
}

func TestAggregateSkipsIncomplete(t *testing.T) {
	res := Aggregate([]signup.Record{{ID: "1", Email: "nope", Name: "N", Funnel: keyspace.Waitlist}})
	assert.Empty(t, res.UniqueEmails)
	assert.Empty(t, res.AllNames)
	assert.Zero(t, res.Stats.WaitlistNames)
}

func TestRankedInterests(t *testing.T) {
	r := Result{Interests: map[string]int{"a": 1, "b": 3, "c": 1}}
	assert.Equal(t, []InterestCount{{"b", 3}, {"a", 1}, {"c", 1}}, r.RankedInterests())
}
