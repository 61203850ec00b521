package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/krasl809/JANDALISYS-sub003/pkg/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// TestConcurrentMutations creates and reads notifications from many
// goroutines and checks the unread count matches the listed records
func TestConcurrentMutations(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping concurrency test in short mode")
	}

	const (
		writers       = 8
		perWriter     = 25
		userID        = "u-concurrent"
		otherUserID   = "u-other"
		totalExpected = writers * perWriter
	)

	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			g, gctx := errgroup.WithContext(ctx)
			for w := 0; w < writers; w++ {
				g.Go(func() error {
					for i := 0; i < perWriter; i++ {
						n, err := s.CreateNotification(gctx, &proto.CreateNotificationRequest{
							UserId: userID,
							Title:  fmt.Sprintf("writer %d item %d", w, i),
						})
						if err != nil {
							return err
						}
						if _, err := s.CreateNotification(gctx, &proto.CreateNotificationRequest{UserId: otherUserID, Title: "noise"}); err != nil {
							return err
						}
						// every other record is read right away
						if i%2 == 0 {
							if _, err := s.MarkRead(gctx, userID, n.Id); err != nil {
								return err
							}
						}
						if _, err := s.UnreadCount(gctx, userID); err != nil {
							return err
						}
					}
					return nil
				})
			}
			require.NoError(t, g.Wait())

			list, err := s.ListNotifications(ctx, userID, 0)
			require.NoError(t, err)
			require.Len(t, list, totalExpected)

			unread := 0
			for _, n := range list {
				if !n.IsRead {
					unread++
				}
			}

			count, err := s.UnreadCount(ctx, userID)
			require.NoError(t, err)
			assert.Equal(t, unread, count)
			assert.Equal(t, writers*(perWriter/2), count)

			changed, err := s.MarkAllRead(ctx, userID)
			require.NoError(t, err)
			assert.Equal(t, unread, changed)

			count, err = s.UnreadCount(ctx, userID)
			require.NoError(t, err)
			assert.Zero(t, count)

			other, err := s.UnreadCount(ctx, otherUserID)
			require.NoError(t, err)
			assert.Equal(t, totalExpected, other)
		})
	}
}
