package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/msgcluster/replica/internal/datastore"
	"github.com/msgcluster/replica/internal/replica"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store, err := datastore.Open(t.TempDir())
	require.NoError(t, err)
	core := replica.New("replica-test", store, 10, nil)
	return NewHandler(core).Router()
}

func post(t *testing.T, router *gin.Engine, path string, body map[string]interface{}) (int, map[string]interface{}) {
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

func TestLoginEndpointRejectsDuplicate(t *testing.T) {
	router := newTestRouter(t)

	code, body := post(t, router, "/v1/login", map[string]interface{}{"user": "alice"})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "sucesso", body["status"])

	code, body = post(t, router, "/v1/login", map[string]interface{}{"user": "alice"})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "erro", body["status"])
	require.Equal(t, "Usuário já cadastrado", body["description"])
}

func TestPublishEndpointEndToEnd(t *testing.T) {
	router := newTestRouter(t)
	post(t, router, "/v1/login", map[string]interface{}{"user": "alice"})
	post(t, router, "/v1/channel", map[string]interface{}{"channel": "geral"})

	code, body := post(t, router, "/v1/publish", map[string]interface{}{
		"user": "alice", "channel": "geral", "message": "oi",
	})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "OK", body["status"])

	_, hist := post(t, router, "/v1/get_history", map[string]interface{}{"channel": "geral", "limit": 10})
	messages := hist["messages"].([]interface{})
	require.Len(t, messages, 1)
}

func TestMalformedPayloadReturnsErro(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/login", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIncomingClockIsMerged(t *testing.T) {
	router := newTestRouter(t)

	_, body := post(t, router, "/v1/login", map[string]interface{}{"user": "alice", "clock": 100})
	clk := uint64(body["clock"].(float64))
	require.Greater(t, clk, uint64(100))
}
