package syncsdk

import (
	"context"
	"fmt"
	"strconv"

	"github.com/openmined/peersync/internal/syncmsg"
)

const (
	v1Register  = "/api/v1/register"
	v1Sync      = "/api/v1/sync"
	v1Peers     = "/api/v1/peers"
	v1Conflicts = "/api/v1/conflicts"
	v1History   = "/api/v1/history"
	healthz     = "/healthz"
)

// Register announces this peer to the coordinator. Registering again is
// allowed and refreshes name and root.
func (s *SyncSDK) Register(ctx context.Context, params *RegisterParams) error {
	var apiResp RegisterResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(params).
		SetSuccessResult(&apiResp).
		Post(v1Register)

	if err := handleAPIError(resp, err, "register"); err != nil {
		return err
	}
	if !apiResp.Success {
		return fmt.Errorf("%w: %s", ErrRegisterRejected, apiResp.Message)
	}
	return nil
}

// Reconcile sends the full local inventory and returns the coordinator's plan.
func (s *SyncSDK) Reconcile(ctx context.Context, files []*syncmsg.FileRecord) (*syncmsg.SyncPlan, error) {
	if files == nil {
		files = []*syncmsg.FileRecord{}
	}

	var plan syncmsg.SyncPlan
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(&reconcileRequest{PeerID: s.peerID, Files: files}).
		SetSuccessResult(&plan).
		Post(v1Sync)

	if err := handleAPIError(resp, err, "sync"); err != nil {
		return nil, err
	}
	return &plan, nil
}

func (s *SyncSDK) Health(ctx context.Context) (*HealthResponse, error) {
	var health HealthResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetRetryCount(0).
		SetSuccessResult(&health).
		Get(healthz)

	if err := handleAPIError(resp, err, "health"); err != nil {
		return nil, err
	}
	return &health, nil
}

func (s *SyncSDK) Peers(ctx context.Context) ([]*PeerStatus, error) {
	var apiResp peersResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetSuccessResult(&apiResp).
		Get(v1Peers)

	if err := handleAPIError(resp, err, "peers"); err != nil {
		return nil, err
	}
	return apiResp.Peers, nil
}

func (s *SyncSDK) Conflicts(ctx context.Context) (*ConflictsResponse, error) {
	var apiResp ConflictsResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetSuccessResult(&apiResp).
		Get(v1Conflicts)

	if err := handleAPIError(resp, err, "conflicts"); err != nil {
		return nil, err
	}
	return &apiResp, nil
}

// History returns the newest operation log entries, optionally for one path.
func (s *SyncSDK) History(ctx context.Context, path string, limit int) ([]*syncmsg.OpLogEntry, error) {
	r := s.client.R().SetContext(ctx)
	if path != "" {
		r.SetQueryParam("path", path)
	}
	if limit > 0 {
		r.SetQueryParam("limit", strconv.Itoa(limit))
	}

	var apiResp historyResponse
	resp, err := r.SetSuccessResult(&apiResp).Get(v1History)
	if err := handleAPIError(resp, err, "history"); err != nil {
		return nil, err
	}
	return apiResp.History, nil
}
