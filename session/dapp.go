package session

import (
	"context"

	"github.com/abcfe/abcfe-wallet/message"
)

// GetPendingConnectionRequest fetches an external connection request that
// is still awaiting a decision.
func (f *Facade) GetPendingConnectionRequest(ctx context.Context, id string) (*message.ConnectionRequest, error) {
	var resp message.ConnectionRequestResponse
	if err := f.call(ctx, message.TypeGetPendingRequest, message.ConnectionRequestIDRequest{RequestID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp.Request, nil
}

// GetConnectionInfo fetches a connection request in any state.
func (f *Facade) GetConnectionInfo(ctx context.Context, id string) (*message.ConnectionRequest, error) {
	var resp message.ConnectionRequestResponse
	if err := f.call(ctx, message.TypeGetQredoInfo, message.ConnectionRequestIDRequest{RequestID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp.Request, nil
}

// AcceptConnection accepts the proposed accounts, or the given subset of
// their addresses.
func (f *Facade) AcceptConnection(ctx context.Context, id string, accounts []string) (*message.ConnectionRequest, error) {
	var resp message.ConnectionRequestResponse
	req := message.AcceptConnectionRequest{RequestID: id, Accounts: accounts}
	if err := f.call(ctx, message.TypeAcceptQredoConnection, req, &resp); err != nil {
		return nil, err
	}
	return &resp.Request, nil
}

func (f *Facade) RejectConnection(ctx context.Context, id string) error {
	return f.call(ctx, message.TypeRejectQredoConnection, message.ConnectionRequestIDRequest{RequestID: id}, nil)
}

func (f *Facade) RespondPermission(ctx context.Context, resp message.PermissionResponse) error {
	return f.call(ctx, message.TypePermissionResponse, resp, nil)
}

func (f *Facade) DisconnectApp(ctx context.Context, origin string) error {
	return f.call(ctx, message.TypeDisconnectApp, message.DisconnectAppRequest{Origin: origin}, nil)
}

func (f *Facade) GetPermissionRequests(ctx context.Context) ([]message.PermissionRequest, error) {
	var resp message.PermissionRequestsResponse
	if err := f.call(ctx, message.TypeGetPermissionRequests, nil, &resp); err != nil {
		return nil, err
	}
	f.update(func(s *State) { s.PermissionRequests = resp.Requests })
	return resp.Requests, nil
}

func (f *Facade) GetTransactionRequests(ctx context.Context) ([]message.TransactionRequest, error) {
	var resp message.TransactionRequestsResponse
	if err := f.call(ctx, message.TypeGetTransactionRequests, nil, &resp); err != nil {
		return nil, err
	}
	f.update(func(s *State) { s.TransactionRequests = resp.Requests })
	return resp.Requests, nil
}

func (f *Facade) RespondTransaction(ctx context.Context, id string, approved bool) error {
	return f.call(ctx, message.TypeTransactionRequestResponse, message.TransactionRequestResponse{ID: id, Approved: approved}, nil)
}

func (f *Facade) SetNetwork(ctx context.Context, network string) error {
	return f.call(ctx, message.TypeSetNetwork, message.NetworkRequest{Network: network}, nil)
}

func (f *Facade) GetNetwork(ctx context.Context) (*message.NetworkResponse, error) {
	var resp message.NetworkResponse
	if err := f.call(ctx, message.TypeGetNetwork, nil, &resp); err != nil {
		return nil, err
	}
	f.update(func(s *State) { s.Network = resp.Network })
	return &resp, nil
}

func (f *Facade) GetFeatures(ctx context.Context) (map[string]bool, error) {
	var resp message.FeaturesResponse
	if err := f.call(ctx, message.TypeGetFeatures, nil, &resp); err != nil {
		return nil, err
	}
	f.update(func(s *State) { s.Features = resp.Features })
	return resp.Features, nil
}

func (f *Facade) refreshStatus(ctx context.Context) error {
	_, err := f.Status(ctx)
	return err
}

func (f *Facade) refreshPermissionRequests(ctx context.Context) error {
	_, err := f.GetPermissionRequests(ctx)
	return err
}

func (f *Facade) refreshTransactionRequests(ctx context.Context) error {
	_, err := f.GetTransactionRequests(ctx)
	return err
}

func (f *Facade) refreshNetwork(ctx context.Context) error {
	_, err := f.GetNetwork(ctx)
	return err
}

func (f *Facade) refreshFeatures(ctx context.Context) error {
	_, err := f.GetFeatures(ctx)
	return err
}
