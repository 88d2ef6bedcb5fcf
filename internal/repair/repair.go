// Package repair rewrites keys whose stored type disagrees with the naming
// convention. It is an offline tool: there is no rollback, and every action is
// logged with the shape before and after.
package repair

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ledgerline/site/internal/keyspace"
	"github.com/ledgerline/site/internal/pkg/logger"
	"github.com/ledgerline/site/internal/pkg/metrics"
	"github.com/ledgerline/site/internal/store"
)

// Outcome of one repair action.
type Outcome string

const (
	Repaired Outcome = "repaired"
	Failed   Outcome = "failed"
	Skipped  Outcome = "skipped"
	Planned  Outcome = "planned"
)

// placeholder is added and removed to recreate a set key.
const placeholder = "__placeholder__"

// Action describes what was (or, in dry-run, would be) done to one key.
type Action struct {
	Key       string            `json:"key"`
	Expected  keyspace.Shape    `json:"expected"`
	Before    keyspace.Shape    `json:"before"`
	After     keyspace.Shape    `json:"after,omitempty"`
	Outcome   Outcome           `json:"outcome"`
	Fields    map[string]string `json:"fields,omitempty"`
	Heuristic bool              `json:"heuristic,omitempty"`
	Detail    string            `json:"detail,omitempty"`
}

// Repairer fixes mismatched keys through a store.Store.
type Repairer struct {
	store    store.Store
	dryRun   bool
	fromSets bool
}

// Option configures a Repairer.
type Option func(*Repairer)

// WithDryRun reports planned actions without writing.
func WithDryRun(on bool) Option {
	return func(r *Repairer) { r.dryRun = on }
}

// WithSetRecovery lets a hash rebuild fall back to the funnel's aggregate
// sets for a missing field. The pick is the lexicographically first member,
// which may belong to a different person; such actions are flagged Heuristic.
func WithSetRecovery(on bool) Option {
	return func(r *Repairer) { r.fromSets = on }
}

// New creates a Repairer.
func New(s store.Store, opts ...Option) *Repairer {
	r := &Repairer{store: s}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RepairKeyspace inspects each key and repairs those whose type does not
// match the naming convention. Healthy and unknown keys produce no action.
func (r *Repairer) RepairKeyspace(ctx context.Context, keys []string) []Action {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	parsed := make([]keyspace.Key, 0, len(sorted))
	interests := make(map[string][]string) // "{funnel}:{id}" -> labels
	for _, raw := range sorted {
		k := keyspace.Parse(raw)
		if k.Kind == keyspace.Unknown {
			continue
		}
		parsed = append(parsed, k)
		if k.Kind == keyspace.InterestFragment {
			id := keyspace.EntryKey(k.Funnel, k.ID)
			interests[id] = append(interests[id], k.Interest)
		}
	}

	var actions []Action
	for _, k := range parsed {
		if ctx.Err() != nil {
			break
		}
		expected := k.ExpectedShape()
		typ, err := r.store.Type(ctx, k.Raw)
		if err != nil {
			actions = append(actions, r.record(Action{
				Key: k.Raw, Expected: expected, Outcome: Failed,
				Detail: fmt.Sprintf("type check failed: %v", err),
			}))
			continue
		}
		actual := keyspace.Shape(typ)
		if actual == expected {
			continue
		}

		var a Action
		switch k.Kind {
		case keyspace.HashEntry:
			a = r.repairHash(ctx, k, actual, interests[k.Raw])
		case keyspace.AggregateSet:
			a = r.repairSet(ctx, k, actual)
		default:
			a = Action{Key: k.Raw, Expected: expected, Before: actual, Outcome: Skipped,
				Detail: "no repair rule for string fragments"}
		}
		actions = append(actions, r.record(a))
	}
	return actions
}

func (r *Repairer) record(a Action) Action {
	metrics.RepairActionsTotal.WithLabelValues(string(a.Outcome)).Inc()
	kv := []interface{}{
		"key", a.Key,
		"expected", a.Expected,
		"before", a.Before,
		"after", a.After,
		"outcome", a.Outcome,
	}
	if a.Detail != "" {
		kv = append(kv, "detail", a.Detail)
	}
	switch {
	case a.Outcome == Failed:
		logger.Error("repair action", kv...)
	case a.Heuristic:
		logger.Warn("repair action used aggregate set values", kv...)
	default:
		logger.Info("repair action", kv...)
	}
	return a
}

// repairHash rebuilds a hash entry from whatever legacy data is left. The
// bad key's own value is read before it is deleted.
func (r *Repairer) repairHash(ctx context.Context, k keyspace.Key, actual keyspace.Shape, labels []string) Action {
	a := Action{Key: k.Raw, Expected: keyspace.ShapeHash, Before: actual}
	var notes []string

	fields := map[string]string{
		"email":     r.fragment(ctx, keyspace.EmailKey(k.Funnel, k.ID), &notes),
		"name":      r.fragment(ctx, keyspace.NameKey(k.Funnel, k.ID), &notes),
		"timestamp": k.ID,
	}
	if fields["email"] == "" && actual == keyspace.ShapeString {
		if v := r.fragment(ctx, k.Raw, &notes); strings.Contains(v, "@") {
			fields["email"] = v
			notes = append(notes, "email taken from the key's string value")
		}
	}
	if k.Funnel == keyspace.Newsletter {
		fields["interest"] = ""
		if len(labels) > 0 {
			sort.Strings(labels)
			fields["interest"] = labels[0]
		}
	}

	if r.fromSets {
		r.fillFromSet(ctx, &a, fields, "email", keyspace.SetKey(k.Funnel, keyspace.SetEmails), &notes)
		r.fillFromSet(ctx, &a, fields, "name", keyspace.SetKey(k.Funnel, keyspace.SetNames), &notes)
		if k.Funnel == keyspace.Newsletter {
			r.fillFromSet(ctx, &a, fields, "interest", keyspace.SetKey(k.Funnel, keyspace.SetInterests), &notes)
		}
	}
	if fields["email"] == "" {
		notes = append(notes, "no email recovered")
	}

	a.Fields = fields
	a.Detail = strings.Join(notes, "; ")
	if r.dryRun {
		a.Outcome = Planned
		a.After = keyspace.ShapeHash
		return a
	}

	if err := r.store.Del(ctx, k.Raw); err != nil {
		a.Outcome = Failed
		a.After = actual
		a.Detail = joinDetail(a.Detail, fmt.Sprintf("del failed: %v", err))
		return a
	}
	if err := r.store.HSet(ctx, k.Raw, fields); err != nil {
		a.Outcome = Failed
		a.After = keyspace.ShapeNone
		a.Detail = joinDetail(a.Detail, fmt.Sprintf("hset failed after delete: %v", err))
		return a
	}
	a.Outcome = Repaired
	a.After = keyspace.ShapeHash
	return a
}

// repairSet deletes a set key of the wrong type and recreates it empty. Redis
// removes empty sets, so the key ends up absent until the next signup.
func (r *Repairer) repairSet(ctx context.Context, k keyspace.Key, actual keyspace.Shape) Action {
	a := Action{Key: k.Raw, Expected: keyspace.ShapeSet, Before: actual,
		Detail: "set contents are rebuilt by new signups"}
	if r.dryRun {
		a.Outcome = Planned
		a.After = keyspace.ShapeNone
		return a
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"del", func() error { return r.store.Del(ctx, k.Raw) }},
		{"sadd", func() error { return r.store.SAdd(ctx, k.Raw, placeholder) }},
		{"srem", func() error { return r.store.SRem(ctx, k.Raw, placeholder) }},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			a.Outcome = Failed
			a.Detail = joinDetail(a.Detail, fmt.Sprintf("%s failed: %v", step.name, err))
			a.After = r.shape(ctx, k.Raw)
			return a
		}
	}
	a.Outcome = Repaired
	a.After = keyspace.ShapeNone
	return a
}

// fragment GETs a string key. Read errors become notes and an empty value.
func (r *Repairer) fragment(ctx context.Context, key string, notes *[]string) string {
	v, err := r.store.Get(ctx, key)
	if err != nil {
		*notes = append(*notes, fmt.Sprintf("could not read %s: %v", key, err))
		return ""
	}
	return v
}

func (r *Repairer) fillFromSet(ctx context.Context, a *Action, fields map[string]string, field, setKey string, notes *[]string) {
	if fields[field] != "" {
		return
	}
	members, err := r.store.SMembers(ctx, setKey)
	if err != nil {
		*notes = append(*notes, fmt.Sprintf("could not read %s: %v", setKey, err))
		return
	}
	if len(members) == 0 {
		return
	}
	sort.Strings(members)
	fields[field] = members[0]
	a.Heuristic = true
	*notes = append(*notes, fmt.Sprintf("%s guessed from %s", field, setKey))
}

func (r *Repairer) shape(ctx context.Context, key string) keyspace.Shape {
	typ, err := r.store.Type(ctx, key)
	if err != nil {
		return ""
	}
	return keyspace.Shape(typ)
}

func joinDetail(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}
