package bootstrap

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
)

// HTTPServer exposes the bootstrap protocol on POST /tenants. It is the
// only public HTTP surface of the broker; the admin REST API lives in a
// separate service.
type HTTPServer struct {
	svc      *Service
	addr     string
	listener net.Listener
	log      *slog.Logger
}

type createTenantRequest struct {
	Name  string `json:"name"`
	Token string `json:"token"`
}

type createTenantResponse struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	APIKey string `json:"apiKey"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewHTTPServer(svc *Service, addr string) *HTTPServer {
	return &HTTPServer{
		svc:  svc,
		addr: addr,
		log:  slog.Default().With("context", "Bootstrap HTTP"),
	}
}

// Start binds the listener and serves in the background.
func (s *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to bind bootstrap listener on %s: %w", s.addr, err)
	}
	s.listener = ln

	go func() {
		if err := fasthttp.Serve(ln, s.handle); err != nil {
			s.log.Error("bootstrap HTTP server stopped", "error", err)
		}
	}()

	s.log.Info("bootstrap endpoint listening", "addr", ln.Addr().String())
	return nil
}

func (s *HTTPServer) handle(ctx *fasthttp.RequestCtx) {
	reqID := uuid.New().String()

	if string(ctx.Path()) != "/tenants" {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	if !ctx.IsPost() {
		ctx.SetStatusCode(fasthttp.StatusMethodNotAllowed)
		return
	}

	var req createTenantRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		s.writeError(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
		return
	}

	clientKey := ctx.RemoteIP().String()
	tenant, err := s.svc.CreateTenant(ctx, req.Name, req.Token, clientKey)
	if err != nil {
		status := statusFor(err)
		s.log.Debug("tenant creation refused",
			"request", reqID, "name", req.Name, "status", status, "error", err)
		s.writeError(ctx, status, publicMessage(err))
		return
	}

	s.log.Info("tenant created via bootstrap", "request", reqID, "tenant", tenant.ID, "name", tenant.Name)

	ctx.SetStatusCode(fasthttp.StatusCreated)
	ctx.SetContentType("application/json")
	_ = json.NewEncoder(ctx).Encode(createTenantResponse{
		ID:     tenant.ID,
		Name:   tenant.Name,
		APIKey: tenant.APIKey,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrMalformed):
		return fasthttp.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return fasthttp.StatusUnauthorized
	case errors.Is(err, ErrAlreadyExists):
		return fasthttp.StatusConflict
	case errors.Is(err, ErrRateLimited):
		return fasthttp.StatusTooManyRequests
	default:
		return fasthttp.StatusInternalServerError
	}
}

// publicMessage keeps internal error detail out of responses.
func publicMessage(err error) string {
	switch {
	case errors.Is(err, ErrMalformed):
		return "malformed request"
	case errors.Is(err, ErrUnauthorized):
		return "token invalid or expired"
	case errors.Is(err, ErrAlreadyExists):
		return "tenant name already taken"
	case errors.Is(err, ErrRateLimited):
		return "rate limit exceeded"
	default:
		return "internal error"
	}
}

func (s *HTTPServer) writeError(ctx *fasthttp.RequestCtx, status int, msg string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	_ = json.NewEncoder(ctx).Encode(errorResponse{Error: msg})
}

// Close stops accepting bootstrap requests.
func (s *HTTPServer) Close() error {
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
