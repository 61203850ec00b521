package engine

import (
	"context"
	"testing"
	"time"

	"github.com/krasl809/JANDALISYS-sub003/internal/config"
	"github.com/krasl809/JANDALISYS-sub003/pkg/client"
	"github.com/krasl809/JANDALISYS-sub003/pkg/proto"
	"github.com/krasl809/JANDALISYS-sub003/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, storageType string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Storage.StorageType = storageType
	cfg.Storage.DataDir = t.TempDir()
	cfg.Auth.JWTSecret = "engine-test-secret"
	cfg.Auth.Users = []config.UserConfig{
		{ID: "u1", Username: "alice", Password: "pw-alice"},
	}
	return cfg
}

func TestCreateEngineRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t, "memory")
	cfg.Auth.JWTSecret = ""

	_, err := CreateEngine(cfg)
	assert.Error(t, err)
}

func TestCreateEngineWithBadger(t *testing.T) {
	e, err := CreateEngine(testConfig(t, "badger"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, e.Shutdown(ctx))
}

func TestEngineServesUntilCancelled(t *testing.T) {
	e, err := CreateEngine(testConfig(t, "memory"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- e.Start(ctx) }()

	require.Eventually(t, func() bool { return e.API().Addr() != "" }, 3*time.Second, 10*time.Millisecond)

	base := "http://" + e.API().Addr() + "/api/v1"
	login, err := client.New(base).Login(context.Background(), "alice", "pw-alice")
	require.NoError(t, err)

	c := client.New(base, client.WithSession(session.Static{UserID: login.User.Id, Token: login.AccessToken}))
	_, err = c.CreateNotification(context.Background(), &proto.CreateNotificationRequest{UserId: "u1", Title: "Welcome"})
	require.NoError(t, err)

	count, err := c.UnreadCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	assert.NoError(t, e.Shutdown(shutdownCtx))
}

func TestRunStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- Run(ctx, testConfig(t, "memory")) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}
