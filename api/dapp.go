package api

import (
	"strings"
	"sync"
	"time"

	"github.com/abcfe/abcfe-wallet/common/logger"
	"github.com/abcfe/abcfe-wallet/config"
	"github.com/abcfe/abcfe-wallet/keyring"
	"github.com/abcfe/abcfe-wallet/message"
	prt "github.com/abcfe/abcfe-wallet/protocol"
	"github.com/google/uuid"
)

// settled dapp requests kept for polling
const maxSettledDappRequests = 64

type broadcaster interface {
	BroadcastPayload(t message.Type, payload interface{})
}

// Dapp holds the dapp capability surface: permission and transaction
// requests waiting on the user, connected origins, network and features.
type Dapp struct {
	kr  *keyring.Keyring
	out broadcaster
	now func() time.Time

	features       map[string]bool
	networks       []string
	defaultNetwork string

	mu           sync.Mutex
	permissions  []*message.PermissionRequest
	transactions []*message.TransactionRequest
	connected    map[string][]string // origin -> allowed account ids
	activeOrigin string
}

func NewDapp(kr *keyring.Keyring, out broadcaster, cfg *config.Config) *Dapp {
	features := make(map[string]bool, len(cfg.Features))
	for k, v := range cfg.Features {
		features[k] = v
	}
	return &Dapp{
		kr:             kr,
		out:            out,
		now:            time.Now,
		features:       features,
		networks:       append([]string(nil), cfg.Network.Available...),
		defaultNetwork: cfg.Network.Default,
		connected:      make(map[string][]string),
	}
}

// RequestPermission queues a connection request from origin for the user.
func (d *Dapp) RequestPermission(origin, favicon string, permissions []string) (*message.PermissionRequest, error) {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return nil, prt.ErrInvalidRequest.WithMessage("origin is required")
	}
	if len(permissions) == 0 {
		return nil, prt.ErrInvalidRequest.WithMessage("no permissions requested")
	}

	req := &message.PermissionRequest{
		ID:          uuid.NewString(),
		Origin:      origin,
		Favicon:     favicon,
		Permissions: permissions,
		CreatedAt:   d.now().UnixMilli(),
	}

	d.mu.Lock()
	d.permissions = append(d.permissions, req)
	changed := d.activeOrigin != origin
	d.activeOrigin = origin
	pending := d.pendingPermissions()
	out := *req
	d.mu.Unlock()

	logger.Info("permission request ", req.ID, " from ", origin)
	if changed {
		d.out.BroadcastPayload(message.TypeActiveOriginChanged, message.ActiveOriginChanged{Origin: origin, Favicon: favicon})
	}
	d.out.BroadcastPayload(message.TypePermissionRequestsUpdated, message.PermissionRequestsUpdated{Requests: pending})
	return &out, nil
}

// Permission returns a permission request in any state.
func (d *Dapp) Permission(id string) (*message.PermissionRequest, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, p := range d.permissions {
		if p.ID == id {
			out := *p
			return &out, nil
		}
	}
	return nil, prt.ErrNotFound.WithMessage("permission request %s", id)
}

// PermissionRequests lists requests still waiting on the user.
func (d *Dapp) PermissionRequests() []message.PermissionRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pendingPermissions()
}

func (d *Dapp) pendingPermissions() []message.PermissionRequest {
	out := make([]message.PermissionRequest, 0)
	for _, p := range d.permissions {
		if !p.Responded {
			out = append(out, *p)
		}
	}
	return out
}

// RespondPermission settles a pending request. Allowing without accounts
// grants the active account.
func (d *Dapp) RespondPermission(resp message.PermissionResponse) error {
	accounts := resp.Accounts
	if resp.Allowed && len(accounts) == 0 {
		active, err := d.kr.ActiveAccount()
		if err != nil {
			return err
		}
		accounts = []string{active.ID}
	}

	d.mu.Lock()
	var req *message.PermissionRequest
	for _, p := range d.permissions {
		if p.ID == resp.ID && !p.Responded {
			req = p
			break
		}
	}
	if req == nil {
		d.mu.Unlock()
		return prt.ErrNotFound.WithMessage("no pending permission request %s", resp.ID)
	}
	req.Responded = true
	req.Allowed = resp.Allowed
	if resp.Allowed {
		req.Accounts = accounts
		d.connected[req.Origin] = accounts
	}
	d.permissions = prunePermissions(d.permissions)
	pending := d.pendingPermissions()
	d.mu.Unlock()

	logger.Info("permission request ", resp.ID, " allowed: ", resp.Allowed)
	d.out.BroadcastPayload(message.TypePermissionRequestsUpdated, message.PermissionRequestsUpdated{Requests: pending})
	return nil
}

// DisconnectApp revokes every grant of origin.
func (d *Dapp) DisconnectApp(origin string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.connected[origin]; !ok {
		return prt.ErrNotFound.WithMessage("origin %s is not connected", origin)
	}
	delete(d.connected, origin)
	logger.Info("disconnected ", origin)
	return nil
}

// RequestTransaction queues data from a connected origin for signing.
func (d *Dapp) RequestTransaction(origin, accountID string, data []byte) (*message.TransactionRequest, error) {
	if len(data) == 0 {
		return nil, prt.ErrInvalidRequest.WithMessage("empty transaction data")
	}

	d.mu.Lock()
	allowed := false
	for _, a := range d.connected[origin] {
		if strings.EqualFold(a, accountID) {
			allowed = true
			break
		}
	}
	if !allowed {
		d.mu.Unlock()
		return nil, prt.ErrInvalidRequest.WithMessage("origin %s has no permission for account %s", origin, accountID)
	}

	req := &message.TransactionRequest{
		ID:        uuid.NewString(),
		Origin:    origin,
		AccountID: accountID,
		Data:      append([]byte(nil), data...),
		CreatedAt: d.now().UnixMilli(),
	}
	d.transactions = append(d.transactions, req)
	pending := d.pendingTransactions()
	out := *req
	d.mu.Unlock()

	logger.Info("transaction request ", req.ID, " from ", origin)
	d.out.BroadcastPayload(message.TypeTransactionRequestsUpdated, message.TransactionRequestsUpdated{Requests: pending})
	return &out, nil
}

func (d *Dapp) Transaction(id string) (*message.TransactionRequest, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, t := range d.transactions {
		if t.ID == id {
			out := *t
			return &out, nil
		}
	}
	return nil, prt.ErrNotFound.WithMessage("transaction request %s", id)
}

func (d *Dapp) TransactionRequests() []message.TransactionRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pendingTransactions()
}

func (d *Dapp) pendingTransactions() []message.TransactionRequest {
	out := make([]message.TransactionRequest, 0)
	for _, t := range d.transactions {
		if t.Approved == nil {
			out = append(out, *t)
		}
	}
	return out
}

// RespondTransaction settles a pending transaction. Approval signs through
// the keyring; a signing failure leaves the request pending.
func (d *Dapp) RespondTransaction(id string, approved bool) error {
	d.mu.Lock()
	var req *message.TransactionRequest
	for _, t := range d.transactions {
		if t.ID == id && t.Approved == nil {
			req = t
			break
		}
	}
	if req == nil {
		d.mu.Unlock()
		return prt.ErrNotFound.WithMessage("no pending transaction request %s", id)
	}
	accountID, data := req.AccountID, req.Data
	d.mu.Unlock()

	var sig []byte
	if approved {
		var err error
		if sig, _, err = d.kr.SignData(accountID, data); err != nil {
			return err
		}
	}

	d.mu.Lock()
	if req.Approved != nil {
		d.mu.Unlock()
		return prt.ErrNotFound.WithMessage("no pending transaction request %s", id)
	}
	req.Approved = &approved
	req.Signature = sig
	d.transactions = pruneTransactions(d.transactions)
	pending := d.pendingTransactions()
	d.mu.Unlock()

	logger.Info("transaction request ", id, " approved: ", approved)
	d.out.BroadcastPayload(message.TypeTransactionRequestsUpdated, message.TransactionRequestsUpdated{Requests: pending})
	return nil
}

// Network returns the selected network, falling back to the configured default.
func (d *Dapp) Network() (*message.NetworkResponse, error) {
	n, err := d.kr.Network()
	if err != nil {
		return nil, err
	}
	if n == "" {
		n = d.defaultNetwork
	}
	return &message.NetworkResponse{Network: n, Available: append([]string(nil), d.networks...)}, nil
}

func (d *Dapp) SetNetwork(network string) error {
	known := false
	for _, n := range d.networks {
		if n == network {
			known = true
			break
		}
	}
	if !known {
		return prt.ErrInvalidRequest.WithMessage("unknown network %q", network)
	}
	if err := d.kr.SetNetwork(network); err != nil {
		return err
	}

	logger.Info("network switched to ", network)
	d.out.BroadcastPayload(message.TypeNetworkChanged, message.NetworkChanged{Network: network})
	return nil
}

func (d *Dapp) Features() map[string]bool {
	out := make(map[string]bool, len(d.features))
	for k, v := range d.features {
		out[k] = v
	}
	return out
}

// ActiveOrigin returns the origin of the most recent dapp request.
func (d *Dapp) ActiveOrigin() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.activeOrigin
}

func prunePermissions(list []*message.PermissionRequest) []*message.PermissionRequest {
	settled := 0
	for _, p := range list {
		if p.Responded {
			settled++
		}
	}
	out := list[:0]
	for _, p := range list {
		if p.Responded && settled > maxSettledDappRequests {
			settled--
			continue
		}
		out = append(out, p)
	}
	return out
}

func pruneTransactions(list []*message.TransactionRequest) []*message.TransactionRequest {
	settled := 0
	for _, t := range list {
		if t.Approved != nil {
			settled++
		}
	}
	out := list[:0]
	for _, t := range list {
		if t.Approved != nil && settled > maxSettledDappRequests {
			settled--
			continue
		}
		out = append(out, t)
	}
	return out
}
