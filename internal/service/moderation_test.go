package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/Gopher0727/FeaturedFeed/internal/model"
)

func queue(t *testing.T, f *fixture, ids ...string) {
	t.Helper()
	svc := f.ingest(true)
	for i, id := range ids {
		_, err := svc.AdmitMessage(context.Background(), messageEvent(id, "100", i))
		require.NoError(t, err)
	}
}

func feedJSON(t *testing.T, f *fixture) string {
	t.Helper()
	data, err := f.store.Load(context.Background(), "messages")
	require.NoError(t, err)
	return string(data)
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("approve commits and second resolve is not found", func(t *testing.T) {
		f := newFixture()
		queue(t, f, "1")
		mod := f.moderation()

		out, err := mod.Resolve(ctx, "1", " Y ")
		require.NoError(t, err)
		assert.Equal(t, OutcomeApproved, out)

		out, err = mod.Resolve(ctx, "1", "y")
		require.NoError(t, err)
		assert.Equal(t, OutcomeNotFound, out)

		status, err := mod.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, Status{Channels: 1, Messages: 1, Pending: 0}, status)
	})

	t.Run("reject discards", func(t *testing.T) {
		f := newFixture()
		queue(t, f, "1")
		mod := f.moderation()

		out, err := mod.Resolve(ctx, "1", "N")
		require.NoError(t, err)
		assert.Equal(t, OutcomeRejected, out)

		status, err := mod.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, Status{}, status)
	})

	t.Run("invalid decision touches nothing", func(t *testing.T) {
		f := newFixture()
		queue(t, f, "1")
		f.store.FailSave = errors.New("must not write")
		mod := f.moderation()

		for _, reply := range []string{"yes", "", "ok", "nn"} {
			out, err := mod.Resolve(ctx, "1", reply)
			require.NoError(t, err)
			assert.Equal(t, OutcomeInvalidDecision, out)
		}
	})

	t.Run("n to unknown id changes nothing", func(t *testing.T) {
		f := newFixture()
		queue(t, f, "1")
		pendingBefore, err := f.store.Load(ctx, "pending_messages")
		require.NoError(t, err)

		out, err := f.moderation().Resolve(ctx, "404", "n")
		require.NoError(t, err)
		assert.Equal(t, OutcomeNotFound, out)

		pendingAfter, err := f.store.Load(ctx, "pending_messages")
		require.NoError(t, err)
		assert.Equal(t, pendingBefore, pendingAfter)
		_, err = f.store.Load(ctx, "messages")
		assert.Error(t, err, "feed must stay unwritten")
	})

	t.Run("empty token", func(t *testing.T) {
		f := newFixture()
		out, err := f.moderation().Resolve(ctx, "", "y")
		require.NoError(t, err)
		assert.Equal(t, OutcomeNotFound, out)
	})

	t.Run("cancellation after take still commits", func(t *testing.T) {
		f := newFixture()
		queue(t, f, "1")
		hs := f.hook()
		cctx, cancel := context.WithCancel(ctx)
		defer cancel()
		hs.afterSave = func(key string) {
			if key == "pending_messages" {
				cancel()
			}
		}

		out, err := f.moderation().Resolve(cctx, "1", "y")
		require.NoError(t, err)
		assert.Equal(t, OutcomeApproved, out)

		status, err := f.moderation().Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, Status{Channels: 1, Messages: 1, Pending: 0}, status)
	})

	t.Run("failed commit restores the entry in place", func(t *testing.T) {
		f := newFixture()
		queue(t, f, "1", "2", "3")
		hs := f.hook()
		hs.failSave["messages"] = errors.New("disk full")

		_, err := f.moderation().Resolve(ctx, "2", "y")
		assert.ErrorIs(t, err, model.ErrExternalUnavailable)

		entries, err := f.pending.List(ctx)
		require.NoError(t, err)
		ids := make([]string, 0, len(entries))
		for _, e := range entries {
			ids = append(ids, e.MessageID)
		}
		assert.Equal(t, []string{"1", "2", "3"}, ids)
	})

	t.Run("invalid record is dropped on approve", func(t *testing.T) {
		f := newFixture()
		_, err := f.pending.Enqueue(ctx, model.Record{ID: "legacy"})
		require.NoError(t, err)

		out, err := f.moderation().Resolve(ctx, "legacy", "y")
		assert.Equal(t, OutcomeApproved, out)
		assert.ErrorIs(t, err, model.ErrInvalidRecord)

		count, err := f.pending.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func TestApproveEqualsDirectCommit(t *testing.T) {
	ctx := context.Background()

	viaApproval := newFixture()
	direct := newFixture()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, viaApproval.messages.Commit(ctx, recordFor(t, viaApproval, id, i)))
		require.NoError(t, direct.messages.Commit(ctx, recordFor(t, direct, id, i)))
	}

	queue(t, viaApproval, "x")
	_, err := viaApproval.moderation().Resolve(ctx, "x", "y")
	require.NoError(t, err)

	rec := recordFor(t, direct, "x", 0)
	require.NoError(t, direct.messages.Commit(ctx, rec))

	assert.Equal(t, feedJSON(t, direct), feedJSON(t, viaApproval))
}

func recordFor(t *testing.T, f *fixture, id string, minute int) model.Record {
	t.Helper()
	rec, ok := f.normalizer.FromMessage(context.Background(), messageEvent(id, "100", minute))
	require.True(t, ok)
	return rec
}

func TestApproveAll(t *testing.T) {
	ctx := context.Background()

	t.Run("permission denied changes nothing", func(t *testing.T) {
		f := newFixture()
		queue(t, f, "1", "2")
		_, err := f.moderation("mod").ApproveAll(ctx, "someone")
		assert.ErrorIs(t, err, model.ErrPermissionDenied)

		count, err := f.pending.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("empty queue", func(t *testing.T) {
		f := newFixture()
		n, err := f.moderation("mod").ApproveAll(ctx, "mod")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("storage failure keeps unprocessed entries", func(t *testing.T) {
		f := newFixture()
		queue(t, f, "1", "2")
		f.store.FailSave = errors.New("disk full")
		_, err := f.moderation("mod").ApproveAll(ctx, "mod")
		assert.ErrorIs(t, err, model.ErrExternalUnavailable)

		f.store.FailSave = nil
		count, err := f.pending.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})
}

// Property: approveall over N entries equals N individual approvals in queue order.
func TestProperty_ApproveAllEqualsSequentialApprovals(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 8).Draw(rt, "n")
		ids := make([]string, n)
		for i := range ids {
			ids[i] = fmt.Sprintf("m%d", i)
		}
		minutes := rapid.SliceOfN(rapid.IntRange(0, 30), n, n).Draw(rt, "minutes")
		channels := rapid.SliceOfN(rapid.SampledFrom([]string{"100", "200"}), n, n).Draw(rt, "channels")

		bulk := newFixture()
		single := newFixture()
		for _, f := range []*fixture{bulk, single} {
			svc := f.ingest(true)
			for i, id := range ids {
				if _, err := svc.AdmitMessage(context.Background(), messageEvent(id, channels[i], minutes[i])); err != nil {
					rt.Fatalf("admit: %v", err)
				}
			}
		}

		count, err := bulk.moderation("mod").ApproveAll(context.Background(), "mod")
		if err != nil || count != n {
			rt.Fatalf("approveall: count=%d err=%v", count, err)
		}
		mod := single.moderation()
		for _, id := range ids {
			if out, err := mod.Resolve(context.Background(), id, "y"); err != nil || out != OutcomeApproved {
				rt.Fatalf("resolve %s: %s %v", id, out, err)
			}
		}

		for _, f := range []*fixture{bulk, single} {
			if c, _ := f.pending.Count(context.Background()); c != 0 {
				rt.Fatalf("pending not empty: %d", c)
			}
		}
		if n == 0 {
			return
		}
		a, _ := bulk.store.Load(context.Background(), "messages")
		b, _ := single.store.Load(context.Background(), "messages")
		if string(a) != string(b) {
			rt.Fatalf("feeds differ:\n%s\n%s", a, b)
		}
	})
}
