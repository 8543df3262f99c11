package election

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/msgcluster/replica/internal/datastore"
	"github.com/msgcluster/replica/internal/publish"
	"github.com/msgcluster/replica/internal/replica"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, name string, rank int) *Manager {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store, err := datastore.Open(t.TempDir())
	require.NoError(t, err)
	core := replica.New(name, store, 10, nil)
	return New(name, rank, core, publish.New(""), 15*time.Second)
}

func TestBecomeCoordinatorAtFormationSetsState(t *testing.T) {
	m := newTestManager(t, "replica-1", 1)
	require.False(t, m.IsCoordinator())

	m.BecomeCoordinatorAtFormation()
	require.True(t, m.IsCoordinator())
	require.Equal(t, "replica-1", m.Coordinator())
}

func TestHandleRequestRejectsLowerOrEqualRank(t *testing.T) {
	m := newTestManager(t, "replica-2", 2)
	router := m.Router()

	code, body := postJSON(t, router, "/election/request", map[string]interface{}{"rank": 2, "server": "replica-2b", "timestamp": 1.0})
	require.Equal(t, 200, code)
	require.Equal(t, "erro", body["status"])

	code, body = postJSON(t, router, "/election/request", map[string]interface{}{"rank": 3, "server": "replica-3", "timestamp": 1.0})
	require.Equal(t, 200, code)
	require.Equal(t, "erro", body["status"])
}

func TestHandleRequestAcceptsLowerCandidateRank(t *testing.T) {
	m := newTestManager(t, "replica-3", 3)
	router := m.Router()

	code, body := postJSON(t, router, "/election/request", map[string]interface{}{"rank": 1, "server": "replica-1", "timestamp": 1.0})
	require.Equal(t, 200, code)
	require.Equal(t, "OK", body["status"])
}

func TestHandleCoordinatorAdoptsAnnouncementAndReturnsToNormal(t *testing.T) {
	m := newTestManager(t, "replica-2", 2)
	m.StartElection(context.Background()) // no peers -> becomes COORDINATOR momentarily
	router := m.Router()

	code, _ := postJSON(t, router, "/election/coordinator", map[string]interface{}{
		"event": "new_coordinator", "coordinator": "replica-3", "rank": 3, "timestamp": 1.0,
	})
	require.Equal(t, 200, code)

	m.mu.Lock()
	state := m.state
	coordinator := m.coordinator
	m.mu.Unlock()

	require.Equal(t, StateNormal, state)
	require.Equal(t, "replica-3", coordinator)
}

func TestHandleCoordinatorIgnoresStaleLowerRankAnnouncement(t *testing.T) {
	m := newTestManager(t, "replica-3", 3)
	m.BecomeCoordinatorAtFormation()
	router := m.Router()

	code, body := postJSON(t, router, "/election/coordinator", map[string]interface{}{
		"event": "new_coordinator", "coordinator": "replica-2", "rank": 2, "timestamp": 1.0,
	})
	require.Equal(t, 200, code)
	require.Equal(t, "ignored", body["status"])

	require.True(t, m.IsCoordinator())
	require.Equal(t, "replica-3", m.Coordinator())
}

func TestHandleCoordinatorAcceptsHigherRankAnnouncement(t *testing.T) {
	m := newTestManager(t, "replica-2", 2)
	m.BecomeCoordinatorAtFormation()
	router := m.Router()

	code, body := postJSON(t, router, "/election/coordinator", map[string]interface{}{
		"event": "new_coordinator", "coordinator": "replica-3", "rank": 3, "timestamp": 1.0,
	})
	require.Equal(t, 200, code)
	require.Equal(t, "OK", body["status"])

	require.False(t, m.IsCoordinator())
	require.Equal(t, "replica-3", m.Coordinator())
}

func TestStartElectionWithNoHigherPeersBecomesCoordinator(t *testing.T) {
	m := newTestManager(t, "replica-3", 3)
	m.StartElection(context.Background())

	require.True(t, m.IsCoordinator())
}

func TestMonitorCoordinatorStartsElectionAfterSuspicion(t *testing.T) {
	m := newTestManager(t, "replica-2", 2)
	m.mu.Lock()
	m.coordinator = "replica-1" // not self, so suspicion logic applies
	m.lastHeartbeat = time.Now().Add(-1 * time.Hour)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	go m.MonitorCoordinator(ctx)

	require.Eventually(t, func() bool {
		return m.IsCoordinator()
	}, 2*time.Second, 50*time.Millisecond)
}

func postJSON(t *testing.T, router *gin.Engine, path string, body map[string]interface{}) (int, map[string]interface{}) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec.Code, out
}
