package inbox

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/krasl809/JANDALISYS-sub003/pkg/client"
	"github.com/krasl809/JANDALISYS-sub003/pkg/proto"
	"github.com/krasl809/JANDALISYS-sub003/pkg/session"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu       sync.Mutex
	list     []*proto.Notification
	count    int
	listErr  error
	countErr error
	failWith error
	calls    []string
}

func (f *fakeAPI) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.failWith
}

func (f *fakeAPI) ListNotifications(ctx context.Context) ([]*proto.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]*proto.Notification, len(f.list))
	for i, n := range f.list {
		out[i] = n.Clone()
	}
	return out, nil
}

func (f *fakeAPI) UnreadCount(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count, f.countErr
}

func (f *fakeAPI) MarkRead(ctx context.Context, id string) error {
	return f.record("read:" + id)
}

func (f *fakeAPI) MarkAllRead(ctx context.Context) error {
	return f.record("read-all")
}

func (f *fakeAPI) DeleteNotification(ctx context.Context, id string) error {
	return f.record("delete:" + id)
}

var activeSession = session.Static{UserID: "u1", Token: "tok"}

func seeded(t *testing.T) (*Inbox, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{
		list: []*proto.Notification{
			{Id: "n1", UserId: "u1", Title: "Contract signed"},
			{Id: "n2", UserId: "u1", Title: "Invoice overdue"},
			{Id: "n3", UserId: "u1", Title: "Shipment arrived"},
			{Id: "n4", UserId: "u1", Title: "Welcome", IsRead: true},
		},
		count: 3,
	}
	ib := New(api, activeSession)
	require.NoError(t, ib.Refresh(context.Background()))
	return ib, api
}

func unreadIn(s Snapshot) int {
	n := 0
	for _, item := range s.Notifications {
		if !item.IsRead {
			n++
		}
	}
	return n
}

func TestRefreshLoadsListAndCount(t *testing.T) {
	ib, _ := seeded(t)

	snap := ib.Snapshot()
	require.Len(t, snap.Notifications, 4)
	assert.Equal(t, "n1", snap.Notifications[0].Id)
	assert.Equal(t, 3, snap.UnreadCount)
	assert.Equal(t, 3, ib.UnreadCount())
}

func TestRefreshWithoutSessionSkipsFetch(t *testing.T) {
	api := &fakeAPI{listErr: errors.New("must not be called")}
	ib := New(api, session.Static{})

	require.NoError(t, ib.Refresh(context.Background()))
	assert.Empty(t, ib.Snapshot().Notifications)
}

func TestRefreshSilentFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"cancelled", context.Canceled},
		{"wrapped cancel", fmt.Errorf("failed to send request: %w", context.Canceled)},
		{"unauthorized", &client.APIError{StatusCode: http.StatusUnauthorized, Message: "token expired"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ib, api := seeded(t)
			api.listErr = tt.err

			require.NoError(t, ib.Refresh(context.Background()))
			assert.Len(t, ib.Snapshot().Notifications, 4, "cache untouched")
			assert.Equal(t, 3, ib.UnreadCount())
		})
	}
}

func TestRefreshCancelledContext(t *testing.T) {
	ib, api := seeded(t)
	api.count = 99

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	api.listErr = ctx.Err()

	require.NoError(t, ib.Refresh(ctx))
	assert.Equal(t, 3, ib.UnreadCount())
}

func TestRefreshPropagatesOtherErrors(t *testing.T) {
	ib, api := seeded(t)
	api.countErr = &client.APIError{StatusCode: http.StatusInternalServerError, Message: "boom"}

	err := ib.Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, 3, ib.UnreadCount())
}

func TestMarkReadIsIdempotent(t *testing.T) {
	ib, api := seeded(t)

	require.NoError(t, ib.MarkRead(context.Background(), "n1"))
	assert.Equal(t, 2, ib.UnreadCount())
	assert.True(t, ib.Snapshot().Notifications[0].IsRead)

	require.NoError(t, ib.MarkRead(context.Background(), "n1"))
	assert.Equal(t, 2, ib.UnreadCount(), "already read record is not counted twice")
	assert.Equal(t, []string{"read:n1", "read:n1"}, api.calls)
}

func TestMarkReadUnknownIdLeavesCounter(t *testing.T) {
	ib, _ := seeded(t)

	require.NoError(t, ib.MarkRead(context.Background(), "missing"))
	assert.Equal(t, 3, ib.UnreadCount())
}

func TestMarkReadFloorsAtZero(t *testing.T) {
	api := &fakeAPI{list: []*proto.Notification{{Id: "n1"}}, count: 0}
	ib := New(api, activeSession)
	require.NoError(t, ib.Refresh(context.Background()))

	require.NoError(t, ib.MarkRead(context.Background(), "n1"))
	assert.Equal(t, 0, ib.UnreadCount())
}

func TestMarkAllRead(t *testing.T) {
	ib, _ := seeded(t)

	require.NoError(t, ib.MarkAllRead(context.Background()))

	snap := ib.Snapshot()
	assert.Equal(t, 0, snap.UnreadCount)
	for _, n := range snap.Notifications {
		assert.True(t, n.IsRead, n.Id)
	}
}

func TestDelete(t *testing.T) {
	ib, _ := seeded(t)

	require.NoError(t, ib.Delete(context.Background(), "n2"))
	assert.Equal(t, 2, ib.UnreadCount())

	require.NoError(t, ib.Delete(context.Background(), "n4"))
	assert.Equal(t, 2, ib.UnreadCount(), "deleting a read record keeps the counter")

	ids := []string{}
	for _, n := range ib.Snapshot().Notifications {
		ids = append(ids, n.Id)
	}
	assert.Equal(t, []string{"n1", "n3"}, ids)
}

func TestMutationFailureLeavesCache(t *testing.T) {
	ib, api := seeded(t)
	api.failWith = &client.APIError{StatusCode: http.StatusNotFound, Message: "Notification not found"}

	require.Error(t, ib.MarkRead(context.Background(), "n1"))
	require.Error(t, ib.MarkAllRead(context.Background()))
	require.Error(t, ib.Delete(context.Background(), "n1"))

	snap := ib.Snapshot()
	assert.Len(t, snap.Notifications, 4)
	assert.Equal(t, 3, snap.UnreadCount)
	assert.False(t, snap.Notifications[0].IsRead)
}

func TestApplyPrependsAndCounts(t *testing.T) {
	ib, _ := seeded(t)

	ib.Apply(&proto.Notification{Id: "n5", UserId: "u1", Title: "New contract"})

	snap := ib.Snapshot()
	require.Len(t, snap.Notifications, 5)
	assert.Equal(t, "n5", snap.Notifications[0].Id)
	assert.Equal(t, 4, snap.UnreadCount)

	ib.Apply(&proto.Notification{Id: "n5", UserId: "u1"})
	assert.Equal(t, 4, ib.UnreadCount(), "duplicate push is ignored")

	ib.Apply(nil)
	assert.Len(t, ib.Snapshot().Notifications, 5)
}

func TestSnapshotIsACopy(t *testing.T) {
	ib, _ := seeded(t)

	snap := ib.Snapshot()
	snap.Notifications[0].IsRead = true
	snap.Notifications = snap.Notifications[:1]

	again := ib.Snapshot()
	assert.Len(t, again.Notifications, 4)
	assert.False(t, again.Notifications[0].IsRead)
}

func TestReconcileFixesDrift(t *testing.T) {
	// backend reports a count that disagrees with the list
	api := &fakeAPI{list: []*proto.Notification{{Id: "a"}, {Id: "b", IsRead: true}}, count: 7}
	ib := New(api, activeSession)
	require.NoError(t, ib.Refresh(context.Background()))
	assert.Equal(t, 7, ib.UnreadCount())

	assert.Equal(t, 1, ib.Reconcile())
	assert.Equal(t, 1, ib.UnreadCount())
}

func TestResetClearsCache(t *testing.T) {
	ib, _ := seeded(t)

	ib.Reset()
	snap := ib.Snapshot()
	assert.Empty(t, snap.Notifications)
	assert.Equal(t, 0, snap.UnreadCount)
}

func TestSubscribeReceivesLatestSnapshot(t *testing.T) {
	ib, _ := seeded(t)

	ch, unsubscribe := ib.Subscribe()

	ib.Apply(&proto.Notification{Id: "x1"})
	ib.Apply(&proto.Notification{Id: "x2"})

	select {
	case snap := <-ch:
		assert.Equal(t, 5, snap.UnreadCount)
		assert.Equal(t, "x2", snap.Notifications[0].Id)
	case <-time.After(time.Second):
		t.Fatal("no snapshot published")
	}

	unsubscribe()
	unsubscribe()
	_, open := <-ch
	assert.False(t, open)
}

func TestCounterMatchesListUnderRandomMutations(t *testing.T) {
	api := &fakeAPI{}
	ib := New(api, activeSession)
	rng := rand.New(rand.NewSource(42))
	ctx := context.Background()

	next := 0
	ids := func() []string {
		var out []string
		for _, n := range ib.Snapshot().Notifications {
			out = append(out, n.Id)
		}
		return out
	}

	for step := 0; step < 500; step++ {
		existing := ids()
		switch op := rng.Intn(4); {
		case op == 0 || len(existing) == 0:
			next++
			ib.Apply(&proto.Notification{Id: fmt.Sprintf("r%d", next)})
		case op == 1:
			require.NoError(t, ib.MarkRead(ctx, existing[rng.Intn(len(existing))]))
		case op == 2:
			require.NoError(t, ib.Delete(ctx, existing[rng.Intn(len(existing))]))
		default:
			if rng.Intn(10) == 0 {
				require.NoError(t, ib.MarkAllRead(ctx))
			} else {
				// re-push of a known record
				ib.Apply(&proto.Notification{Id: existing[rng.Intn(len(existing))]})
			}
		}

		snap := ib.Snapshot()
		require.Equal(t, unreadIn(snap), snap.UnreadCount, "step %d", step)
		require.GreaterOrEqual(t, snap.UnreadCount, 0)
	}
}

// Each op encodes a mutation kind in its low two bits and a target index in
// the rest.
func TestCounterProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("counter equals unread records after every mutation", prop.ForAll(
		func(ops []int) bool {
			ib := New(&fakeAPI{}, activeSession)
			ctx := context.Background()

			for step, op := range ops {
				list := ib.Snapshot().Notifications
				kind, target := op%4, op/4

				var err error
				switch {
				case kind == 0 || len(list) == 0:
					ib.Apply(&proto.Notification{Id: fmt.Sprintf("p%d", step)})
				case kind == 1:
					err = ib.MarkRead(ctx, list[target%len(list)].Id)
				case kind == 2:
					err = ib.Delete(ctx, list[target%len(list)].Id)
				default:
					err = ib.MarkAllRead(ctx)
				}
				if err != nil {
					return false
				}

				snap := ib.Snapshot()
				if snap.UnreadCount < 0 || snap.UnreadCount != unreadIn(snap) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 399)),
	))

	properties.TestingRun(t)
}

func TestConcurrentApplyAndMarkRead(t *testing.T) {
	ib := New(&fakeAPI{}, activeSession)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("c%d", i)
		wg.Add(2)
		go func() {
			defer wg.Done()
			ib.Apply(&proto.Notification{Id: id})
		}()
		go func() {
			defer wg.Done()
			_ = ib.MarkRead(context.Background(), id)
		}()
	}
	wg.Wait()

	snap := ib.Snapshot()
	assert.Len(t, snap.Notifications, 50)
	assert.Equal(t, unreadIn(snap), snap.UnreadCount)
}

func TestSubscriberEndsOnFinalState(t *testing.T) {
	for round := 0; round < 300; round++ {
		ib := New(&fakeAPI{}, activeSession)
		ch, unsubscribe := ib.Subscribe()

		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for k := 0; k < 5; k++ {
					ib.Apply(&proto.Notification{Id: fmt.Sprintf("r%d-w%d-%d", round, w, k)})
				}
			}(w)
		}
		wg.Wait()

		select {
		case snap := <-ch:
			require.Equal(t, ib.UnreadCount(), snap.UnreadCount, "round %d", round)
			require.Len(t, snap.Notifications, 40, "round %d", round)
		default:
			t.Fatalf("round %d: no snapshot buffered", round)
		}
		unsubscribe()
	}
}

func TestApplyAlreadyReadLeavesCounter(t *testing.T) {
	ib, _ := seeded(t)

	ib.Apply(&proto.Notification{Id: "n9", UserId: "u1", IsRead: true})

	snap := ib.Snapshot()
	require.Len(t, snap.Notifications, 5)
	assert.Equal(t, 3, snap.UnreadCount)
	assert.Equal(t, unreadIn(snap), snap.UnreadCount)
}
