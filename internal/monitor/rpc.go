package monitor

import (
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/feral-file/ttc-coordinator/internal/domain"
)

func parseUint64(raw string) (uint64, error) {
	return strconv.ParseUint(raw, 10, 64)
}

// RPCServer exposes Monitor's six methods over plain HTTP+JSON, per
// spec.md §4.5's RPC table. Method framing (JSON-RPC 2.0 envelopes,
// batching) is out of scope; only names and behavior are.
type RPCServer struct {
	monitor *Monitor
}

// NewRPCServer wraps a Monitor for HTTP exposure.
func NewRPCServer(monitor *Monitor) *RPCServer {
	return &RPCServer{monitor: monitor}
}

// Register attaches all six handlers to router.
func (s *RPCServer) Register(router gin.IRouter) {
	router.POST("/register_contract", s.handleRegisterContract)
	router.GET("/get_phase", s.handleGetPhase)
	router.GET("/get_proof", s.handleGetProof)
	router.GET("/subscribe_proof", s.handleSubscribeProof)
	router.GET("/get_image_id_contract", s.handleImageIDContract)
	router.GET("/health_check", s.handleHealthCheck)
}

type registerContractRequest struct {
	Address string `json:"address" binding:"required"`
	ChainID string `json:"chain_id" binding:"required"`
}

func (s *RPCServer) handleRegisterContract(c *gin.Context) {
	var req registerContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, domain.NewInvalidInput("malformed register_contract request", nil, err))
		return
	}
	if !common.IsHexAddress(req.Address) {
		writeError(c, domain.NewInvalidInput("malformed contract address", req.Address, nil))
		return
	}

	phase, err := s.monitor.RegisterContract(c.Request.Context(), common.HexToAddress(req.Address), domain.Chain(req.ChainID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"phase": phase})
}

func (s *RPCServer) handleGetPhase(c *gin.Context) {
	address, ok := parseAddressQuery(c)
	if !ok {
		return
	}

	phase, err := s.monitor.GetPhase(address)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"phase": phase})
}

func (s *RPCServer) handleGetProof(c *gin.Context) {
	address, ok := parseAddressQuery(c)
	if !ok {
		return
	}
	block, ok := parseBlockQuery(c)
	if !ok {
		return
	}

	result, err := s.monitor.GetProof(c.Request.Context(), address, block)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, proofResultJSON(*result))
}

func (s *RPCServer) handleSubscribeProof(c *gin.Context) {
	address, ok := parseAddressQuery(c)
	if !ok {
		return
	}
	block, ok := parseBlockQuery(c)
	if !ok {
		return
	}

	results, err := s.monitor.SubscribeProof(c.Request.Context(), address, block)
	if err != nil {
		writeError(c, err)
		return
	}

	select {
	case result, ok := <-results:
		if !ok {
			writeError(c, domain.ErrJobNotFound)
			return
		}
		c.JSON(http.StatusOK, proofResultJSON(result))
	case <-c.Request.Context().Done():
		c.AbortWithStatus(http.StatusGatewayTimeout)
	}
}

func (s *RPCServer) handleImageIDContract(c *gin.Context) {
	solidity, err := s.monitor.ImageIDContract(c.Request.Context())
	if err != nil || solidity == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "image id not yet available"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"solidity": solidity})
}

func (s *RPCServer) handleHealthCheck(c *gin.Context) {
	if err := s.monitor.HealthCheck(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func parseAddressQuery(c *gin.Context) (common.Address, bool) {
	raw := c.Query("address")
	if !common.IsHexAddress(raw) {
		writeError(c, domain.NewInvalidInput("malformed contract address", raw, nil))
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func parseBlockQuery(c *gin.Context) (uint64, bool) {
	raw := c.Query("block")
	block, err := parseUint64(raw)
	if err != nil {
		writeError(c, domain.NewInvalidInput("malformed block number", raw, err))
		return 0, false
	}
	return block, true
}

func proofResultJSON(result ProofResult) gin.H {
	body := gin.H{"status": result.Status}
	if len(result.Proof) > 0 {
		body["proof"] = "0x" + hex.EncodeToString(result.Proof)
	}
	if len(result.Journal) > 0 {
		body["journal"] = "0x" + hex.EncodeToString(result.Journal)
	}
	if result.Error != "" {
		body["error"] = result.Error
	}
	return body
}

func writeError(c *gin.Context, err error) {
	var coreErr *domain.CoreError
	if errors.As(err, &coreErr) {
		c.JSON(httpStatusForTag(coreErr.Tag), gin.H{"code": domain.RPCCode(coreErr.Tag), "message": coreErr.Error()})
		return
	}

	switch {
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, domain.ErrWatcherNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": err.Error()})
	case errors.Is(err, domain.ErrContractAlreadyWatched):
		c.JSON(http.StatusConflict, gin.H{"message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
	}
}

func httpStatusForTag(tag domain.ErrorTag) int {
	switch tag {
	case domain.TagInvalidInput:
		return http.StatusBadRequest
	case domain.TagTransient:
		return http.StatusServiceUnavailable
	case domain.TagFatalJob, domain.TagFatalProcess:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
