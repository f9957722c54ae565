// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package journal

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compute-gateway/internal/gateway/callid"
	"compute-gateway/internal/gateway/registry"
	gwerrors "compute-gateway/pkg/errors"
)

func TestMemory_SameTimeFirstSaveWins(t *testing.T) {
	ctx := context.Background()
	j, err := NewMemory(0)
	require.NoError(t, err)
	id := callid.Derive([]byte("x"))

	_, err = j.Lookup(ctx, id)
	assert.ErrorIs(t, err, gwerrors.ErrNotFound)

	out := []byte("first")
	require.NoError(t, j.Save(ctx, Entry{ID: id, Output: out}))
	require.NoError(t, j.Save(ctx, Entry{ID: id, Output: []byte("second")}))
	out[0] = 'X'

	e, err := j.Lookup(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), e.Output)
}

func TestMemory_NewerEntryReplaces(t *testing.T) {
	ctx := context.Background()
	j, err := NewMemory(0)
	require.NoError(t, err)
	id := callid.Derive([]byte("re-run"))
	t0 := time.Unix(1700000000, 0)

	require.NoError(t, j.Save(ctx, Entry{ID: id, Output: []byte("pong1"), RecordedAt: t0}))
	require.NoError(t, j.Save(ctx, Entry{ID: id, Output: []byte("pong2"), RecordedAt: t0.Add(time.Hour)}))
	require.NoError(t, j.Save(ctx, Entry{ID: id, Output: []byte("stale"), RecordedAt: t0.Add(time.Minute)}))

	e, err := j.Lookup(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("pong2"), e.Output)
}

func TestRecorder_ForwardsReopen(t *testing.T) {
	now := time.Unix(1700000000, 0)
	reg, err := registry.New(registry.Config{GracePeriod: time.Minute}, registry.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	j, err := NewMemory(0)
	require.NoError(t, err)
	rec := NewRecorder(reg, j, 0, nil)
	id := callid.Derive([]byte("again"))

	require.True(t, rec.Publish(id, registry.Resolved([]byte("v1"))))
	now = now.Add(time.Minute)
	reg.Sweep()
	assert.True(t, rec.Reopen(id))
	assert.False(t, NewRecorder(&countingPublisher{}, j, 0, nil).Reopen(id))
}

func TestMemory_Capacity(t *testing.T) {
	ctx := context.Background()
	j, err := NewMemory(1)
	require.NoError(t, err)
	a, b := callid.Derive([]byte("a")), callid.Derive([]byte("b"))
	require.NoError(t, j.Save(ctx, Entry{ID: a}))
	require.NoError(t, j.Save(ctx, Entry{ID: b}))
	_, err = j.Lookup(ctx, a)
	assert.ErrorIs(t, err, gwerrors.ErrNotFound)
	_, err = j.Lookup(ctx, b)
	assert.NoError(t, err)
}

func TestEntry_Outcome(t *testing.T) {
	id := callid.Derive([]byte("e"))
	now := time.Now()

	ok := EntryFromOutcome(id, registry.Resolved([]byte("o")), now)
	assert.Equal(t, "", ok.Error)
	assert.Equal(t, []byte("o"), ok.Outcome().Output)
	assert.NoError(t, ok.Outcome().Err)

	failed := EntryFromOutcome(id, registry.Failed(&gwerrors.ExecutionError{Description: "out of gas"}), now)
	assert.Nil(t, failed.Output)
	assert.Equal(t, "out of gas", gwerrors.Description(failed.Outcome().Err))

	anon := EntryFromOutcome(id, registry.Failed(errors.New("")), now)
	assert.Equal(t, "call failed", anon.Error)
}

type countingPublisher struct {
	calls int
	ok    bool
}

func (p *countingPublisher) Publish(callid.ID, registry.Outcome) bool {
	p.calls++
	return p.ok
}

type failingJournal struct{ Journal }

func (failingJournal) Save(context.Context, Entry) error { return errors.New("disk full") }

func TestRecorder_ArchivesOnlyEffectivePublish(t *testing.T) {
	ctx := context.Background()
	j, err := NewMemory(0)
	require.NoError(t, err)
	reg, err := registry.New(registry.Config{})
	require.NoError(t, err)
	rec := NewRecorder(reg, j, 0, nil)
	id := callid.Derive([]byte("rec"))

	assert.True(t, rec.Publish(id, registry.Resolved([]byte("o1"))))
	assert.False(t, rec.Publish(id, registry.Resolved([]byte("o2"))))

	e, err := j.Lookup(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("o1"), e.Output)

	skipped := &countingPublisher{ok: false}
	rec = NewRecorder(skipped, j, 0, nil)
	other := callid.Derive([]byte("other"))
	assert.False(t, rec.Publish(other, registry.Resolved([]byte("o"))))
	_, err = j.Lookup(ctx, other)
	assert.ErrorIs(t, err, gwerrors.ErrNotFound)
}

func TestRecorder_SaveFailureDoesNotFailPublish(t *testing.T) {
	inner := &countingPublisher{ok: true}
	rec := NewRecorder(inner, failingJournal{}, time.Second, nil)
	assert.True(t, rec.Publish(callid.Derive([]byte("f")), registry.Resolved(nil)))
	assert.Equal(t, 1, inner.calls)
}

func testDSN(t *testing.T) string {
	dsn := os.Getenv("TEST_JOURNAL_DSN")
	if dsn == "" {
		t.Skip("TEST_JOURNAL_DSN not set, skipping Postgres journal tests")
	}
	return dsn
}

func TestPgJournal_SaveLookup(t *testing.T) {
	ctx := context.Background()
	j, err := NewPostgres(ctx, testDSN(t))
	require.NoError(t, err)
	defer j.Close()

	id := callid.Derive([]byte("pg-" + uuid.New().String()))
	_, err = j.Lookup(ctx, id)
	assert.ErrorIs(t, err, gwerrors.ErrNotFound)

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, j.Save(ctx, Entry{ID: id, Error: "reverted", RecordedAt: now}))
	require.NoError(t, j.Save(ctx, Entry{ID: id, Output: []byte("late"), RecordedAt: now}))

	e, err := j.Lookup(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "reverted", e.Error)
	assert.Empty(t, e.Output)
	assert.True(t, now.Equal(e.RecordedAt))

	later := now.Add(time.Minute)
	require.NoError(t, j.Save(ctx, Entry{ID: id, Output: []byte("rerun"), RecordedAt: later}))
	e, err = j.Lookup(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("rerun"), e.Output)
	assert.Empty(t, e.Error)
}
