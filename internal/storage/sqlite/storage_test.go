package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/krasl809/JANDALISYS-sub003/internal/domain"
	"github.com/krasl809/JANDALISYS-sub003/pkg/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorage_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewStorage(Config{DataDir: dir})
	require.NoError(t, err)

	n, err := s.CreateNotification(ctx, &proto.CreateNotificationRequest{
		UserId:      "u1",
		Title:       "Shipment received",
		Message:     "PO-118 arrived at the main warehouse",
		Type:        proto.NotificationType_SUCCESS,
		RelatedType: "inventory",
		RelatedId:   "118",
	})
	require.NoError(t, err)
	_, err = s.MarkRead(ctx, "u1", n.Id)
	require.NoError(t, err)
	require.NoError(t, s.Shutdown(ctx))

	reopened, err := NewStorage(Config{DataDir: dir})
	require.NoError(t, err)
	defer reopened.Shutdown(ctx)

	got, err := reopened.GetNotification(ctx, "u1", n.Id)
	require.NoError(t, err)

	want := n.Clone()
	want.IsRead = true
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("reopened notification mismatch (-want +got):\n%s", diff)
	}
}

func TestStorage_ListUsesCreationTime(t *testing.T) {
	s, err := NewStorage(Config{InMemory: true})
	require.NoError(t, err)
	defer s.Shutdown(context.Background())

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	times := []time.Time{base.Add(2 * time.Hour), base, base.Add(time.Hour)}
	var created []string
	for _, ts := range times {
		s.now = func() time.Time { return ts }
		n, err := s.CreateNotification(context.Background(), &proto.CreateNotificationRequest{UserId: "u1", Title: ts.String()})
		require.NoError(t, err)
		created = append(created, n.Id)
	}

	list, err := s.ListNotifications(context.Background(), "u1", 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{created[0], created[2], created[1]},
		[]string{list[0].Id, list[1].Id, list[2].Id})
}

func TestStorage_SameTimestampKeepsInsertOrder(t *testing.T) {
	s, err := NewStorage(Config{InMemory: true})
	require.NoError(t, err)
	defer s.Shutdown(context.Background())

	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	var created []string
	for _, title := range []string{"first", "second", "third"} {
		n, err := s.CreateNotification(context.Background(), &proto.CreateNotificationRequest{UserId: "u1", Title: title})
		require.NoError(t, err)
		created = append(created, n.Id)
	}

	list, err := s.ListNotifications(context.Background(), "u1", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, created[2], list[0].Id)
	assert.Equal(t, created[1], list[1].Id)
}

func TestStorage_DeleteOtherUsersRecord(t *testing.T) {
	s, err := NewStorage(Config{InMemory: true})
	require.NoError(t, err)
	defer s.Shutdown(context.Background())
	ctx := context.Background()

	n, err := s.CreateNotification(ctx, &proto.CreateNotificationRequest{UserId: "u1", Title: "private"})
	require.NoError(t, err)

	assert.ErrorIs(t, s.DeleteNotification(ctx, "u2", n.Id), domain.ErrNotFound)

	count, err := s.UnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStorage_StartReturnsOnCancel(t *testing.T) {
	s, err := NewStorage(Config{DataDir: t.TempDir(), CheckpointInterval: time.Millisecond})
	require.NoError(t, err)
	defer s.Shutdown(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
