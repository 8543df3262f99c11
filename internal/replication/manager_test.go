package replication

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/msgcluster/replica/internal/datastore"
	"github.com/msgcluster/replica/internal/replica"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, *replica.Core) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store, err := datastore.Open(t.TempDir())
	require.NoError(t, err)
	core := replica.New("replica-test", store, 10, nil)
	return New("replica-test", core), core
}

func TestHandleReplicateReplacesKindWholesale(t *testing.T) {
	m, core := newTestManager(t)
	router := m.Router()

	core.Login("stale-user")

	recs := []datastore.LoginRecord{{User: "alice", Timestamp: 1, Clock: 5}, {User: "bob", Timestamp: 2, Clock: 6}}
	n, err := m.applyReplicate(replicateFrame{Kind: datastore.KindLogins, Source: "peer-2", Payload: mustJSON(t, recs)})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	snap := core.Snapshot()
	require.Len(t, snap.Logins, 2)
	require.Equal(t, "alice", snap.Logins[0].User)

	_ = router
}

func TestHandleSyncStateReturnsSnapshot(t *testing.T) {
	m, core := newTestManager(t)
	core.Login("alice")
	router := m.Router()

	req := httptest.NewRequest("GET", "/sync_state", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "alice"))
}

func TestHandleGetTimeReturnsOffsetAdjustedClock(t *testing.T) {
	m, core := newTestManager(t)
	core.AddTimeOffset(100)
	router := m.Router()

	req := httptest.NewRequest("GET", "/get_time", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "time"))

	var out struct {
		Time float64 `json:"time"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.InDelta(t, float64(time.Now().UnixNano())/1e9+100, out.Time, 1)
}

func TestHandleGetTimeAndAdjustTimeNotifyCoordinatorHeartbeat(t *testing.T) {
	m, _ := newTestManager(t)
	router := m.Router()

	var notified int
	m.SetCoordinatorHeartbeat(func() { notified++ })

	req := httptest.NewRequest("GET", "/get_time", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)

	body := strings.NewReader(`{"offset": 1.5}`)
	req2 := httptest.NewRequest("POST", "/adjust_time", body)
	req2.Header.Set("Content-Type", "application/json")
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)
	require.Equal(t, 200, rec2.Code)

	require.Equal(t, 2, notified)
}

func TestSyncFromCoordinatorAdoptsPeerSnapshot(t *testing.T) {
	mCoord, coordCore := newTestManager(t)
	coordCore.Login("alice")
	coordCore.Channel("geral")
	srv := httptest.NewServer(mCoord.Router())
	defer srv.Close()

	mSelf, selfCore := newTestManager(t)
	err := mSelf.SyncFromCoordinator(context.Background(), strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)

	users := selfCore.Users()
	require.Equal(t, []string{"alice"}, users.Extra["users"])
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
