package prover

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feral-file/ttc-coordinator/internal/logger"
)

// RPCServer exposes the prover's three-method surface (spec.md §4.3) as
// gin handlers. Requests and responses are plain JSON bodies; spec.md §1
// places JSON-RPC 2.0 *framing* out of scope, so these are named after
// and behave like the JSON-RPC methods without wrapping a JSON-RPC codec
// around them.
type RPCServer struct {
	worker  *Worker
	proving Proving
}

// NewRPCServer builds an RPCServer around a running Worker and its
// Proving implementation.
func NewRPCServer(worker *Worker, proving Proving) *RPCServer {
	return &RPCServer{worker: worker, proving: proving}
}

// Register attaches the prover's routes to router.
func (s *RPCServer) Register(router gin.IRouter) {
	router.POST("/wake", s.handleWake)
	router.GET("/health_check", s.handleHealthCheck)
	router.GET("/get_image_id_contract", s.handleImageIDContract)
}

// handleWake implements wake(): idempotent, returns immediately. It only
// signals the worker's loop; it does not wait for the drain to finish.
func (s *RPCServer) handleWake(c *gin.Context) {
	s.worker.Wake()
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *RPCServer) handleHealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// handleImageIDContract implements get_image_id_contract(): returns the
// Solidity snippet identifying the current guest binary, so an operator
// can align the on-chain verifier's configured image id with this prover.
func (s *RPCServer) handleImageIDContract(c *gin.Context) {
	id := s.proving.ImageID()
	if id == nil {
		logger.Warn("get_image_id_contract called with no image id available")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "image id unavailable"})
		return
	}

	hexID := fmt.Sprintf("0x%x", id)
	snippet := fmt.Sprintf("bytes32 constant IMAGE_ID = %s;", hexID)
	c.JSON(http.StatusOK, gin.H{
		"image_id": hexID,
		"solidity": snippet,
	})
}
