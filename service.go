package codedrop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/hazyhaar/codedrop/block"
	"github.com/hazyhaar/codedrop/internal/store"
	"github.com/hazyhaar/codedrop/internal/submit"
)

// ErrInvalidPort is returned for ports that are not an integer in
// [1025, 65535].
var ErrInvalidPort = store.ErrInvalidPort

// ErrInvalidSession is returned for empty or malformed session ids.
var ErrInvalidSession = store.ErrInvalidSession

// SuccessResponse answers every write request.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// PortResponse answers getPort.
type PortResponse struct {
	Port int `json:"port"`
}

// ActivationResponse answers getActivationState.
type ActivationResponse struct {
	IsActive bool `json:"isActive"`
}

// BlockStatusResponse answers getBlockStatus.
type BlockStatusResponse struct {
	Status block.Status `json:"status"`
}

// SubmitResponse answers submitCode.
type SubmitResponse = submit.Result

// TestConnectionResponse answers testConnection.
type TestConnectionResponse = submit.PingResult

// Service is the request/response contract between the watcher and its
// collaborators: the session/config layer and the backend sink. The
// control API, the MCP tools and the CLI are thin adapters over it.
//
// Reads fail open to safe defaults (default port, active, absent); writes
// report success or failure and never panic.
type Service struct {
	store  *store.Store
	client *submit.Client
	logger *slog.Logger
}

// NewService creates a Service over an open store and a backend client.
func NewService(st *store.Store, client *submit.Client, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, client: client, logger: logger}
}

// GetPort returns the backend port of session, creating the session with
// the default port on first access.
func (s *Service) GetPort(ctx context.Context, session string) (*PortResponse, error) {
	port, err := s.store.Port(ctx, session)
	if errors.Is(err, store.ErrInvalidSession) {
		return nil, err
	}
	if err != nil {
		s.logger.Warn("codedrop: get port failed, using default", "session", session, "error", err)
	}
	return &PortResponse{Port: port}, nil
}

// StorePort sets the backend port of session. Out-of-range ports are
// rejected and leave the stored value untouched.
func (s *Service) StorePort(ctx context.Context, session string, port int) *SuccessResponse {
	if err := s.store.SetPort(ctx, session, port); err != nil {
		s.logger.Info("codedrop: store port rejected", "session", session, "port", port, "error", err)
		return failure(err)
	}
	return &SuccessResponse{Success: true}
}

// GetActivationState returns the process-wide activation flag.
func (s *Service) GetActivationState(ctx context.Context) *ActivationResponse {
	active, err := s.store.Activation(ctx)
	if err != nil {
		s.logger.Warn("codedrop: get activation failed, assuming active", "error", err)
	}
	return &ActivationResponse{IsActive: active}
}

// StoreActivationState sets the process-wide activation flag.
func (s *Service) StoreActivationState(ctx context.Context, active bool) *SuccessResponse {
	if err := s.store.SetActivation(ctx, active); err != nil {
		s.logger.Error("codedrop: store activation failed", "error", err)
		return failure(err)
	}
	return &SuccessResponse{Success: true}
}

// GetBlockStatus returns the status of fingerprint in session.
func (s *Service) GetBlockStatus(ctx context.Context, session, fingerprint string) (*BlockStatusResponse, error) {
	st, err := s.store.BlockStatus(ctx, session, fingerprint)
	if errors.Is(err, store.ErrInvalidSession) {
		return nil, err
	}
	if err != nil {
		s.logger.Warn("codedrop: get block status failed, assuming absent", "session", session, "error", err)
	}
	return &BlockStatusResponse{Status: st}, nil
}

// SetBlockStatus records status for fingerprint in session. Setting
// StatusAbsent clears the row even when it is terminal, which is how an
// unchanged block gets submitted again.
func (s *Service) SetBlockStatus(ctx context.Context, session, fingerprint string, status block.Status) *SuccessResponse {
	var err error
	if status == block.StatusAbsent {
		err = s.store.ClearBlockStatus(ctx, session, fingerprint)
	} else {
		err = s.store.SetBlockStatus(ctx, session, fingerprint, status, "")
	}
	if err != nil {
		s.logger.Info("codedrop: set block status rejected", "session", session, "fingerprint", fingerprint, "status", status, "error", err)
		return failure(err)
	}
	return &SuccessResponse{Success: true}
}

// ListBlockStatuses returns every recorded status of session.
func (s *Service) ListBlockStatuses(ctx context.Context, session string) ([]store.BlockRecord, error) {
	return s.store.ListBlockStatuses(ctx, session)
}

// SubmitCode posts code to the backend port of session. This is the raw
// transport: it neither checks nor records block status.
func (s *Service) SubmitCode(ctx context.Context, session, code string) *SubmitResponse {
	port, err := s.store.Port(ctx, session)
	if errors.Is(err, store.ErrInvalidSession) {
		return &submit.Result{Details: submit.Details{Status: "error", Message: err.Error()}}
	}
	if err != nil {
		s.logger.Warn("codedrop: get port failed, using default", "session", session, "error", err)
	}
	res, err := s.client.Submit(ctx, port, code)
	if err != nil {
		s.logger.Info("codedrop: submit failed", "session", session, "port", port, "error", err)
	}
	return res
}

// TestConnection checks that a backend answers on port.
func (s *Service) TestConnection(ctx context.Context, port int) *TestConnectionResponse {
	if !store.ValidPort(port) {
		return &submit.PingResult{Details: map[string]any{"error": ErrInvalidPort.Error()}}
	}
	res, err := s.client.Ping(ctx, port)
	if err != nil {
		if res.Details == nil {
			res.Details = map[string]any{}
		}
		res.Details["error"] = err.Error()
	}
	return res
}

// EndSession deletes the port and every block status of session.
func (s *Service) EndSession(ctx context.Context, session string) *SuccessResponse {
	if err := s.store.EndSession(ctx, session); err != nil {
		s.logger.Warn("codedrop: end session failed", "session", session, "error", err)
		return failure(err)
	}
	s.logger.Info("codedrop: session ended", "session", session)
	return &SuccessResponse{Success: true}
}

// Sessions lists every session with stored state.
func (s *Service) Sessions(ctx context.Context) ([]string, error) {
	return s.store.Sessions(ctx)
}

func failure(err error) *SuccessResponse {
	return &SuccessResponse{Success: false, Error: err.Error()}
}

// ParsePort validates a port received from an untyped boundary (JSON
// value, query string, CLI argument). It accepts integral numbers and
// decimal strings in [1025, 65535]; anything else is ErrInvalidPort.
func ParsePort(v any) (int, error) {
	var n float64
	switch x := v.(type) {
	case int:
		n = float64(x)
	case int64:
		n = float64(x)
	case float64:
		n = x
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, ErrInvalidPort
		}
		n = f
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, ErrInvalidPort
		}
		n = float64(i)
	default:
		return 0, ErrInvalidPort
	}
	if n != math.Trunc(n) || n < store.MinPort || n > store.MaxPort {
		return 0, fmt.Errorf("%w: got %v", ErrInvalidPort, v)
	}
	return int(n), nil
}
