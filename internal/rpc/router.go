package rpc

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cyberdevstudio/internal/auth"
	"cyberdevstudio/internal/logging"
)

// Handler answers one JSON-RPC method call. params is the raw "params"
// field of the request; principal is the caller resolved by AuthMiddleware.
type Handler func(params json.RawMessage, principal auth.Principal) (any, error)

// Router maps JSON-RPC method names to Handlers and serves them over a
// single POST route, the way the rest of this corpus wraps one gin engine
// per concern instead of one route per resource.
type Router struct {
	engine   *gin.Engine
	methods  map[string]Handler
	log      *zap.Logger
}

// New builds a Router. bearer/apiKeys configure AuthMiddleware; either may
// be nil to disable that credential form.
func New(bearer *auth.BearerVerifier, apiKeys *auth.APIKeyVerifier) *Router {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestIDMiddleware())

	r := &Router{
		engine:  engine,
		methods: make(map[string]Handler),
		log:     logging.L().Named("rpc"),
	}

	engine.POST("/rpc", AuthMiddleware(bearer, apiKeys), r.serve)
	engine.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

// Register binds method to handler. Re-registering a method overwrites the
// prior binding; intended for startup wiring only, not concurrent use.
func (r *Router) Register(method string, handler Handler) {
	r.methods[method] = handler
	r.log.Debug("method registered", zap.String("method", method))
}

// Engine returns the underlying gin.Engine, e.g. for http.Server.Handler or
// additional routes the transport layer wants to add.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func (r *Router) serve(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, errorResponse(nil, CodeParseError, "invalid JSON-RPC envelope"))
		return
	}

	handler, ok := r.methods[req.Method]
	if !ok {
		c.JSON(http.StatusOK, errorResponse(req.ID, CodeMethodNotFound, "method not found: "+req.Method))
		return
	}

	principal, _ := Principal(c)
	result, err := handler(req.Params, principal)
	if err != nil {
		resp := fromDomainError(req.ID, err)
		logging.WithRequestID(RequestID(c)).Named("rpc").Warn("rpc handler error",
			zap.String("method", req.Method), zap.Int("code", resp.Error.Code))
		c.JSON(http.StatusOK, resp)
		return
	}

	c.JSON(http.StatusOK, Response{JSONRPC: "2.0", ID: req.ID, Result: result})
}
