// Package main tests for the mobile bridge behind the exported functions.
package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kimhsiao/fieldcount/backend/internal/errors"
)

func newBridge(t *testing.T, remoteURL string) *bridge {
	t.Helper()
	t.Setenv("FIELDCOUNT_REMOTE_URL", remoteURL)
	t.Setenv("FIELDCOUNT_LOG_OUTPUT", "stderr")

	b := &bridge{}
	require.NoError(t, b.init("", t.TempDir()))
	t.Cleanup(func() { b.dispose() })
	return b
}

func TestBridgeNotInitialized(t *testing.T) {
	b := &bridge{}

	_, err := b.executeAction("/counts", `{"method":"GET"}`)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))
	assert.Error(t, b.setOnline(true))
	_, err = b.pendingCount()
	assert.Error(t, err)
	assert.NoError(t, b.dispose(), "dispose before init is a no-op")
}

func TestBridgeOfflineQueueAndReconnect(t *testing.T) {
	var creates atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			creates.Add(1)
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	b := newBridge(t, srv.URL+"/api")

	for i := 0; i < 3; i++ {
		out, err := b.executeAction("/counts", `{"method":"POST","payload":{"qty":1}}`)
		require.NoError(t, err)
		var res struct {
			Pending bool `json:"pending"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &res))
		assert.True(t, res.Pending)
	}

	n, err := b.pendingCount()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, b.setOnline(true))
	require.Eventually(t, func() bool {
		n, err := b.pendingCount()
		return err == nil && n == 0
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(3), creates.Load())
}

func TestBridgeInvalidRequestJSON(t *testing.T) {
	b := newBridge(t, "http://127.0.0.1:1/api")

	_, err := b.executeAction("/counts", `{"method":`)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))

	var body errorResponse
	require.NoError(t, json.Unmarshal([]byte(errorJSON(err)), &body))
	assert.Equal(t, "INVALID_INPUT", body.Error)
}

func TestBridgeManualScanPoll(t *testing.T) {
	b := newBridge(t, "http://127.0.0.1:1/api")

	out, err := b.pollScan()
	require.NoError(t, err)
	assert.Empty(t, out)

	require.NoError(t, b.manualScan("4006381333931"))
	out, err = b.pollScan()
	require.NoError(t, err)
	assert.Contains(t, out, `"code":"4006381333931"`)
	assert.Contains(t, out, `"source":"manual"`)

	assert.Error(t, b.manualScan("   "))
}

func TestBridgeLastError(t *testing.T) {
	b := &bridge{}
	b.setLastError(apperrors.New(apperrors.ErrNetwork, "down"))
	assert.Contains(t, b.lastError(), "down")
	b.setLastError(nil)
	assert.Empty(t, b.lastError())
}

func TestBridgeSyncNowEmpty(t *testing.T) {
	b := newBridge(t, "http://127.0.0.1:1/api")

	out, err := b.syncNow()
	require.NoError(t, err)
	assert.Contains(t, out, `"succeeded":0`)
}
