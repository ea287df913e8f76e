package codedrop

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/codedrop/block"
	"github.com/hazyhaar/codedrop/internal/kit"
	"github.com/hazyhaar/codedrop/internal/store"
)

// Request shapes shared by the control API and the MCP tools.

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

type storePortRequest struct {
	SessionID string `json:"session_id"`
	Port      any    `json:"port"`
}

type activationRequest struct {
	IsActive *bool `json:"isActive"`
}

type blockRequest struct {
	SessionID   string `json:"session_id"`
	Fingerprint string `json:"fingerprint"`
	Status      string `json:"status,omitempty"`
}

type submitRequest struct {
	SessionID string `json:"session_id"`
	Code      string `json:"code"`
}

type testConnectionRequest struct {
	Port any `json:"port"`
}

// SessionsResponse lists stored and watched sessions.
type SessionsResponse struct {
	Stored  []string      `json:"stored"`
	Watched []SessionInfo `json:"watched"`
}

// BlockListResponse lists the block statuses of one session.
type BlockListResponse struct {
	Blocks []store.BlockRecord `json:"blocks"`
}

var errMissingActivation = errors.New("codedrop: isActive is required")

// endpoints adapts Service to kit.Endpoint. end and watched are set when a
// Daemon is running so that ending a session also stops watching its tab.
type endpoints struct {
	svc     *Service
	end     func(ctx context.Context, id string) *SuccessResponse
	watched func() []SessionInfo
	rescan  func(id string)
}

func newEndpoints(svc *Service) *endpoints {
	return &endpoints{
		svc:     svc,
		end:     svc.EndSession,
		watched: func() []SessionInfo { return nil },
		rescan:  func(string) {},
	}
}

func withSession(id string) func(context.Context) context.Context {
	return func(ctx context.Context) context.Context { return kit.WithSessionID(ctx, id) }
}

func (e *endpoints) getPort(ctx context.Context, req any) (any, error) {
	r := req.(*sessionRequest)
	return e.svc.GetPort(ctx, r.SessionID)
}

func (e *endpoints) storePort(ctx context.Context, req any) (any, error) {
	r := req.(*storePortRequest)
	port, err := ParsePort(r.Port)
	if err != nil {
		return failure(err), nil
	}
	return e.svc.StorePort(ctx, r.SessionID, port), nil
}

func (e *endpoints) getActivation(ctx context.Context, _ any) (any, error) {
	return e.svc.GetActivationState(ctx), nil
}

func (e *endpoints) storeActivation(ctx context.Context, req any) (any, error) {
	r := req.(*activationRequest)
	if r.IsActive == nil {
		return failure(errMissingActivation), nil
	}
	return e.svc.StoreActivationState(ctx, *r.IsActive), nil
}

func (e *endpoints) getBlockStatus(ctx context.Context, req any) (any, error) {
	r := req.(*blockRequest)
	return e.svc.GetBlockStatus(ctx, r.SessionID, r.Fingerprint)
}

func (e *endpoints) setBlockStatus(ctx context.Context, req any) (any, error) {
	r := req.(*blockRequest)
	st, err := block.ParseStatus(r.Status)
	if err != nil {
		return failure(err), nil
	}
	resp := e.svc.SetBlockStatus(ctx, r.SessionID, r.Fingerprint, st)
	if resp.Success && st == block.StatusAbsent {
		e.rescan(r.SessionID)
	}
	return resp, nil
}

func (e *endpoints) listBlockStatuses(ctx context.Context, req any) (any, error) {
	r := req.(*sessionRequest)
	recs, err := e.svc.ListBlockStatuses(ctx, r.SessionID)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []store.BlockRecord{}
	}
	return &BlockListResponse{Blocks: recs}, nil
}

func (e *endpoints) submitCode(ctx context.Context, req any) (any, error) {
	r := req.(*submitRequest)
	return e.svc.SubmitCode(ctx, r.SessionID, r.Code), nil
}

func (e *endpoints) testConnection(ctx context.Context, req any) (any, error) {
	r := req.(*testConnectionRequest)
	port, err := ParsePort(r.Port)
	if err != nil {
		return nil, err
	}
	return e.svc.TestConnection(ctx, port), nil
}

func (e *endpoints) endSession(ctx context.Context, req any) (any, error) {
	r := req.(*sessionRequest)
	return e.end(ctx, r.SessionID), nil
}

func (e *endpoints) sessions(ctx context.Context, _ any) (any, error) {
	stored, err := e.svc.Sessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("codedrop: sessions: %w", err)
	}
	if stored == nil {
		stored = []string{}
	}
	watched := e.watched()
	if watched == nil {
		watched = []SessionInfo{}
	}
	return &SessionsResponse{Stored: stored, Watched: watched}, nil
}
