package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ttc-coordinator/internal/domain"
)

func newTestRPCRouter(m *Monitor) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewRPCServer(m).Register(router)
	return router
}

func TestRPCServer_RegisterContractSpawnsWatcher(t *testing.T) {
	m, _, _, _ := newTestMonitor()
	router := newTestRPCRouter(m)

	body := `{"address":"0x0000000000000000000000000000000000000001","chain_id":"eip155:1"}`
	req := httptest.NewRequest(http.MethodPost, "/register_contract", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, float64(domain.PhaseDeposit), out["phase"])
}

func TestRPCServer_RegisterContractRejectsMalformedAddress(t *testing.T) {
	m, _, _, _ := newTestMonitor()
	router := newTestRPCRouter(m)

	body := `{"address":"not-an-address","chain_id":"eip155:1"}`
	req := httptest.NewRequest(http.MethodPost, "/register_contract", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRPCServer_GetPhaseReturnsNotFoundForUnknownContract(t *testing.T) {
	m, _, _, _ := newTestMonitor()
	router := newTestRPCRouter(m)

	req := httptest.NewRequest(http.MethodGet, "/get_phase?address=0x0000000000000000000000000000000000000001", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRPCServer_GetPhaseReturnsRegisteredPhase(t *testing.T) {
	m, _, _, _ := newTestMonitor()
	_, err := m.RegisterContract(context.Background(), common.HexToAddress("0x1"), domain.ChainEthereumMainnet)
	require.NoError(t, err)
	router := newTestRPCRouter(m)

	req := httptest.NewRequest(http.MethodGet, "/get_phase?address=0x0000000000000000000000000000000000000001", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, float64(domain.PhaseDeposit), out["phase"])
}

func TestRPCServer_GetProofReturnsCompletedJob(t *testing.T) {
	m, jobStore, _, _ := newTestMonitor()
	address := common.HexToAddress("0x1")
	id, err := jobStore.CreateJob(context.Background(), address, domain.ChainEthereumMainnet, 100)
	require.NoError(t, err)
	_, err = jobStore.ClaimNext(context.Background())
	require.NoError(t, err)
	require.NoError(t, jobStore.Complete(context.Background(), id, []byte{0xAB}, []byte{0xCD}))

	router := newTestRPCRouter(m)
	req := httptest.NewRequest(http.MethodGet, "/get_proof?address=0x0000000000000000000000000000000000000001&block=100", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "0xab", out["proof"])
	assert.Equal(t, "0xcd", out["journal"])
}

func TestRPCServer_GetProofRejectsMalformedBlock(t *testing.T) {
	m, _, _, _ := newTestMonitor()
	router := newTestRPCRouter(m)

	req := httptest.NewRequest(http.MethodGet, "/get_proof?address=0x0000000000000000000000000000000000000001&block=notanumber", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRPCServer_SubscribeProofReturnsImmediatelyForTerminalJob(t *testing.T) {
	m, jobStore, _, _ := newTestMonitor()
	address := common.HexToAddress("0x1")
	id, err := jobStore.CreateJob(context.Background(), address, domain.ChainEthereumMainnet, 42)
	require.NoError(t, err)
	_, err = jobStore.ClaimNext(context.Background())
	require.NoError(t, err)
	require.NoError(t, jobStore.Fail(context.Background(), id, errors.New("proving failed")))

	router := newTestRPCRouter(m)
	req := httptest.NewRequest(http.MethodGet, "/subscribe_proof?address=0x0000000000000000000000000000000000000001&block=42", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, string(domain.JobStatusFailed), out["status"])
}

func TestRPCServer_HealthCheck(t *testing.T) {
	m, _, _, _ := newTestMonitor()
	router := newTestRPCRouter(m)

	req := httptest.NewRequest(http.MethodGet, "/health_check", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRPCServer_GetImageIDContract(t *testing.T) {
	m, _, _, _ := newTestMonitor()
	router := newTestRPCRouter(m)

	req := httptest.NewRequest(http.MethodGet, "/get_image_id_contract", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Contains(t, out["solidity"], "IMAGE_ID")
}
