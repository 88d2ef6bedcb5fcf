package reconcile

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/site/internal/keyspace"
	"github.com/ledgerline/site/internal/pkg/logger"
	"github.com/ledgerline/site/internal/signup"
	"github.com/ledgerline/site/internal/store"
)

func TestMain(m *testing.M) {
	logger.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func setupStore(t *testing.T) (*store.Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return store.NewRedis(client), mr
}

// faultyStore fails or panics on selected keys and counts calls per key.
type faultyStore struct {
	store.Store
	failOn  map[string]error
	panicOn map[string]bool
	calls   map[string]int
	hgets   map[string]int
}

func newFaultyStore(s store.Store) *faultyStore {
	return &faultyStore{
		Store:   s,
		failOn:  map[string]error{},
		panicOn: map[string]bool{},
		calls:   map[string]int{},
		hgets:   map[string]int{},
	}
}

func (f *faultyStore) hit(key string) error {
	f.calls[key]++
	if f.panicOn[key] {
		panic("injected panic on " + key)
	}
	return f.failOn[key]
}

func (f *faultyStore) Type(ctx context.Context, key string) (string, error) {
	if err := f.hit(key); err != nil {
		return "", err
	}
	return f.Store.Type(ctx, key)
}

func (f *faultyStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	f.hgets[key]++
	if err := f.hit(key); err != nil {
		return nil, err
	}
	return f.Store.HGetAll(ctx, key)
}

func (f *faultyStore) Get(ctx context.Context, key string) (string, error) {
	if err := f.hit(key); err != nil {
		return "", err
	}
	return f.Store.Get(ctx, key)
}

func TestReconcileAllMixedFunnels(t *testing.T) {
	s, mr := setupStore(t)
	mr.HSet("newsletter:1000", "email", "a@x.com", "name", "A", "interest", "tax")
	mr.HSet("waitlist:2000", "email", "a@x.com", "name", "A")
	mr.SAdd("waitlist:emails", "a@x.com")
	mr.SAdd("newsletter:interests", "tax")

	res, err := New(s).ReconcileAll(context.Background())
	require.NoError(t, err)

	want := []signup.Record{
		{ID: "2000", Email: "a@x.com", Name: "A", Timestamp: 2000, Funnel: keyspace.Waitlist},
		{ID: "1000", Email: "a@x.com", Name: "A", Interest: "tax", Timestamp: 1000, Funnel: keyspace.Newsletter},
	}
	if diff := cmp.Diff(want, res.Records); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []signup.InterestTag{{Funnel: keyspace.Newsletter, ID: "1000", Label: "tax"}}, res.Tags)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, 4, res.KeysScanned)
}

func TestReconcileIsolatesWrongShape(t *testing.T) {
	s, mr := setupStore(t)
	mr.HSet("newsletter:1000", "email", "a@x.com")
	mr.HSet("waitlist:2000", "email", "b@x.com")
	require.NoError(t, mr.Set("newsletter:3000", "c@x.com"))

	fs := newFaultyStore(s)
	res, err := New(fs).ReconcileAll(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Records, 2)
	assert.Equal(t, "b@x.com", res.Records[0].Email)
	assert.Equal(t, "a@x.com", res.Records[1].Email)

	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "newsletter:3000", res.Warnings[0].Key)
	assert.Equal(t, CodeShapeMismatch, res.Warnings[0].Code)
	assert.Contains(t, res.Warnings[0].Message, "string")

	assert.Equal(t, 1, fs.calls["newsletter:3000"], "only the TYPE check touches the mismatched key")
	assert.Zero(t, fs.hgets["newsletter:3000"])
	assert.Equal(t, 1, fs.hgets["newsletter:1000"])
}

func TestReconcileIgnoresAggregateSets(t *testing.T) {
	s, mr := setupStore(t)
	mr.SAdd("waitlist:emails", "a@x.com", "b@x.com")
	mr.SAdd("waitlist:names", "A", "B")
	mr.SAdd("newsletter:interests", "tax")

	res, err := New(s).ReconcileAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Records)
	assert.Empty(t, res.Warnings)
}

func TestReconcileIgnoresUnknownKeys(t *testing.T) {
	s, mr := setupStore(t)
	require.NoError(t, mr.Set("session:abc", "x"))
	require.NoError(t, mr.Set("waitlist:abc", "x"))
	mr.HSet("beta:1000", "email", "a@x.com")

	res, err := New(s).ReconcileAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Records)
	assert.Empty(t, res.Warnings)
}

func TestReconcileMissingEmail(t *testing.T) {
	s, mr := setupStore(t)
	mr.HSet("waitlist:1000", "name", "Nobody")

	res, err := New(s).ReconcileAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Records)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, CodeMissingEmail, res.Warnings[0].Code)
}

func TestReconcileDropsIncompleteRecord(t *testing.T) {
	s, mr := setupStore(t)
	mr.HSet("waitlist:1000", "email", "not-an-email")

	res, err := New(s).ReconcileAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Records)
	assert.Equal(t, map[Code]int{CodeIncomplete: 1}, res.WarningCounts())
}

func TestReconcileDroppedRecordsContributeNoInterest(t *testing.T) {
	s, mr := setupStore(t)
	mr.HSet("newsletter:1000", "email", "not-an-email", "interest", "tax")
	mr.HSet("newsletter:2000", "name", "NoEmail", "interest", "audit")
	mr.HSet("newsletter:3000", "email", "ok@x.com", "interest", "payroll")
	require.NoError(t, mr.Set("newsletter:interest:bookkeeping:4000", "gone@x.com"))

	res, err := New(s).ReconcileAll(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Records, 1)
	assert.Equal(t, []signup.InterestTag{
		{Funnel: keyspace.Newsletter, ID: "3000", Label: "payroll"},
		{Funnel: keyspace.Newsletter, ID: "4000", Label: "bookkeeping"},
	}, res.Tags)
	assert.Equal(t, map[Code]int{CodeIncomplete: 1, CodeMissingEmail: 1}, res.WarningCounts())
}

func TestReconcileFragments(t *testing.T) {
	s, mr := setupStore(t)
	// fragment-only entry
	require.NoError(t, mr.Set("waitlist:email:5000", "frag@x.com"))
	require.NoError(t, mr.Set("waitlist:name:5000", "Frag"))
	// hash entry with its name blank, filled from a fragment
	mr.HSet("newsletter:6000", "email", "hash@x.com")
	require.NoError(t, mr.Set("newsletter:name:6000", "Filled"))
	require.NoError(t, mr.Set("newsletter:interest:payroll:6000", "hash@x.com"))
	// name fragment with nothing to attach to
	require.NoError(t, mr.Set("waitlist:name:7000", "Orphan"))

	res, err := New(s).ReconcileAll(context.Background())
	require.NoError(t, err)

	want := []signup.Record{
		{ID: "6000", Email: "hash@x.com", Name: "Filled", Interest: "payroll", Timestamp: 6000, Funnel: keyspace.Newsletter},
		{ID: "5000", Email: "frag@x.com", Name: "Frag", Timestamp: 5000, Funnel: keyspace.Waitlist},
	}
	if diff := cmp.Diff(want, res.Records); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, CodeIncomplete, res.Warnings[0].Code)
	assert.Equal(t, "waitlist:7000", res.Warnings[0].Key)
}

func TestReconcileDedupesInterestTags(t *testing.T) {
	s, mr := setupStore(t)
	mr.HSet("newsletter:1000", "email", "a@x.com", "interest", "tax")
	require.NoError(t, mr.Set("newsletter:interest:tax:1000", "a@x.com"))
	require.NoError(t, mr.Set("newsletter:interest:payroll:1000", "a@x.com"))

	res, err := New(s).ReconcileAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []signup.InterestTag{
		{Funnel: keyspace.Newsletter, ID: "1000", Label: "payroll"},
		{Funnel: keyspace.Newsletter, ID: "1000", Label: "tax"},
	}, res.Tags)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "tax", res.Records[0].Interest)
}

func TestReconcileDenylistSkipsStoreCalls(t *testing.T) {
	s, mr := setupStore(t)
	mr.HSet("waitlist:1000", "email", "a@x.com")
	mr.HSet("waitlist:2000", "email", "b@x.com")

	fs := newFaultyStore(s)
	res, err := New(fs, WithDenylist("waitlist:1000")).ReconcileAll(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Records, 1)
	assert.Equal(t, "b@x.com", res.Records[0].Email)
	assert.Equal(t, map[Code]int{CodeDenylisted: 1}, res.WarningCounts())
	assert.Zero(t, fs.calls["waitlist:1000"])
}

func TestReconcileContinuesPastFailures(t *testing.T) {
	s, mr := setupStore(t)
	mr.HSet("waitlist:1000", "email", "a@x.com")
	mr.HSet("waitlist:2000", "email", "b@x.com")
	mr.HSet("waitlist:3000", "email", "c@x.com")
	require.NoError(t, mr.Set("waitlist:email:4000", "d@x.com"))

	fs := newFaultyStore(s)
	fs.failOn["waitlist:1000"] = errors.New("connection reset")
	fs.panicOn["waitlist:2000"] = true
	fs.failOn["waitlist:email:4000"] = errors.New("timeout")

	res, err := New(fs).ReconcileAll(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Records, 1)
	assert.Equal(t, "c@x.com", res.Records[0].Email)
	assert.Equal(t, map[Code]int{CodeReadFailed: 3}, res.WarningCounts())
}

func TestReconcileFragmentWrongType(t *testing.T) {
	s, mr := setupStore(t)
	mr.HSet("waitlist:email:1000", "email", "a@x.com")

	res, err := New(s).ReconcileAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Records)
	assert.Equal(t, map[Code]int{CodeShapeMismatch: 1}, res.WarningCounts())
}

func TestReconcileAllUnavailable(t *testing.T) {
	s, mr := setupStore(t)
	mr.Close()

	_, err := New(s).ReconcileAll(context.Background())
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

func TestSortNewestFirst(t *testing.T) {
	records := []signup.Record{
		{ID: "1", Timestamp: 1, Funnel: keyspace.Waitlist},
		{ID: "3", Timestamp: 3, Funnel: keyspace.Waitlist},
		{ID: "2", Timestamp: 2, Funnel: keyspace.Waitlist},
		{ID: "2", Timestamp: 2, Funnel: keyspace.Newsletter},
	}
	SortNewestFirst(records)

	var got []string
	for _, r := range records {
		got = append(got, string(r.Funnel)+":"+r.ID)
	}
	assert.Equal(t, []string{"waitlist:3", "newsletter:2", "waitlist:2", "waitlist:1"}, got)
}
