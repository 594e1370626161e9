package keyring

import (
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/abcfe/abcfe-wallet/common/logger"
	prt "github.com/abcfe/abcfe-wallet/protocol"
	"github.com/abcfe/abcfe-wallet/wallet"
	"github.com/google/uuid"
)

type ConnectionStatus string

const (
	ConnectionPending  ConnectionStatus = "pending"
	ConnectionAccepted ConnectionStatus = "accepted"
	ConnectionRejected ConnectionStatus = "rejected"
	ConnectionExpired  ConnectionStatus = "expired"
)

// maxSettledConnections bounds how many terminal requests stay queryable.
const maxSettledConnections = 64

// ConnectionArgs opens an external custodian connection request.
type ConnectionArgs struct {
	Service      string                   `json:"service"`
	URL          string                   `json:"url"`
	Token        string                   `json:"token"`
	Counterparty string                   `json:"counterparty"`
	Accounts     []wallet.ExternalAccount `json:"accounts"`
}

// ConnectionInfo is the token-free view of a request.
type ConnectionInfo struct {
	ID               string                   `json:"id"`
	Service          string                   `json:"service"`
	URL              string                   `json:"url"`
	Counterparty     string                   `json:"counterparty"`
	ProposedAccounts []wallet.ExternalAccount `json:"proposedAccounts"`
	Status           ConnectionStatus         `json:"status"`
	SourceID         string                   `json:"sourceId,omitempty"`
	ExpiresAt        int64                    `json:"expiresAt"`
}

type connRequest struct {
	info     ConnectionInfo
	token    string
	deadline time.Time
	timer    *time.Timer
	settled  time.Time
}

type connRegistry struct {
	k    *Keyring
	mu   sync.Mutex
	reqs map[string]*connRequest
}

func newConnRegistry(k *Keyring) *connRegistry {
	return &connRegistry{k: k, reqs: make(map[string]*connRequest)}
}

func (r *connRegistry) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, req := range r.reqs {
		if req.timer != nil {
			req.timer.Stop()
		}
	}
}

// expire runs from the request timer and only touches pending requests.
func (r *connRegistry) expire(id string) {
	r.mu.Lock()
	req, ok := r.reqs[id]
	if !ok || req.info.Status != ConnectionPending {
		r.mu.Unlock()
		return
	}
	r.settle(req, ConnectionExpired)
	r.mu.Unlock()

	log.Info("connection request expired: ", id)
	r.k.emit(Event{Kind: EventConnectionRequestsChanged})
}

// settle moves req to a terminal status. Caller holds mu.
func (r *connRegistry) settle(req *connRequest, status ConnectionStatus) {
	req.info.Status = status
	req.settled = r.k.now()
	req.token = ""
	if req.timer != nil {
		req.timer.Stop()
	}
	r.prune()
}

// prune drops the oldest terminal requests beyond maxSettledConnections.
func (r *connRegistry) prune() {
	var settled []*connRequest
	for _, req := range r.reqs {
		if req.info.Status != ConnectionPending {
			settled = append(settled, req)
		}
	}
	if len(settled) <= maxSettledConnections {
		return
	}
	sort.Slice(settled, func(i, j int) bool { return settled[i].settled.Before(settled[j].settled) })
	for _, req := range settled[:len(settled)-maxSettledConnections] {
		delete(r.reqs, req.info.ID)
	}
}

// claim checks that id is pending and in time, then marks it with status.
// Once claimed the expiry timer can no longer settle it.
func (r *connRegistry) claim(id string, status ConnectionStatus) (*connRequest, error) {
	req, expired, err := r.tryClaim(id, status)
	if expired {
		r.k.emit(Event{Kind: EventConnectionRequestsChanged})
	}
	return req, err
}

func (r *connRegistry) tryClaim(id string, status ConnectionStatus) (*connRequest, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.reqs[id]
	if !ok {
		return nil, false, prt.ErrNotFound.WithMessage("connection request %s not found", id)
	}
	switch req.info.Status {
	case ConnectionPending:
	case ConnectionExpired:
		return nil, false, prt.ErrRequestExpired
	default:
		return nil, false, prt.ErrNotFound.WithMessage("connection request %s is %s", id, req.info.Status)
	}
	if !r.k.now().Before(req.deadline) {
		r.settle(req, ConnectionExpired)
		return nil, true, prt.ErrRequestExpired
	}

	if req.timer != nil {
		req.timer.Stop()
	}
	req.info.Status = status
	return req, false, nil
}

// rollback returns a failed accept to pending, or to expired when the
// deadline passed meanwhile.
func (r *connRegistry) rollback(req *connRequest) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	remaining := req.deadline.Sub(r.k.now())
	if remaining <= 0 {
		r.settle(req, ConnectionExpired)
		return true
	}
	req.info.Status = ConnectionPending
	id := req.info.ID
	req.timer = time.AfterFunc(remaining, func() { r.expire(id) })
	return false
}

// BeginConnection registers a pending request. A second request from the
// same counterparty while one is pending returns the existing one.
func (k *Keyring) BeginConnection(args ConnectionArgs) (*ConnectionInfo, error) {
	if strings.TrimSpace(args.Counterparty) == "" || args.Token == "" {
		return nil, prt.ErrInvalidRequest.WithMessage("connection request needs a counterparty and a token")
	}
	if len(args.Accounts) == 0 {
		return nil, prt.ErrInvalidRequest.WithMessage("connection request proposes no accounts")
	}
	for _, a := range args.Accounts {
		if _, err := prt.AddressFromHex(a.Address); err != nil {
			return nil, prt.ErrInvalidRequest.WithMessage("invalid proposed account: %v", err)
		}
	}

	r := k.conns
	r.mu.Lock()
	for _, req := range r.reqs {
		if req.info.Status == ConnectionPending && req.info.Counterparty == args.Counterparty {
			info := req.info
			r.mu.Unlock()
			return &info, nil
		}
	}

	now := k.now()
	req := &connRequest{
		info: ConnectionInfo{
			ID:               uuid.NewString(),
			Service:          args.Service,
			URL:              args.URL,
			Counterparty:     args.Counterparty,
			ProposedAccounts: append([]wallet.ExternalAccount(nil), args.Accounts...),
			Status:           ConnectionPending,
			ExpiresAt:        now.Add(k.opts.ConnectionTTL).UnixMilli(),
		},
		token:    args.Token,
		deadline: now.Add(k.opts.ConnectionTTL),
	}
	id := req.info.ID
	req.timer = time.AfterFunc(k.opts.ConnectionTTL, func() { r.expire(id) })
	r.reqs[id] = req
	info := req.info
	r.mu.Unlock()

	log.Info("connection request pending: ", id, " counterparty: ", args.Counterparty)
	k.emit(Event{Kind: EventConnectionRequestsChanged})
	return &info, nil
}

// FetchPendingConnection returns a request that is still pending and in time.
func (k *Keyring) FetchPendingConnection(id string) (*ConnectionInfo, error) {
	r := k.conns
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.reqs[id]
	if !ok || req.info.Status != ConnectionPending || !k.now().Before(req.deadline) {
		return nil, prt.ErrNotFound.WithMessage("no pending connection request %s", id)
	}
	info := req.info
	return &info, nil
}

// PendingConnections lists the requests awaiting a decision.
func (k *Keyring) PendingConnections() []ConnectionInfo {
	r := k.conns
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []ConnectionInfo
	now := k.now()
	for _, req := range r.reqs {
		if req.info.Status == ConnectionPending && now.Before(req.deadline) {
			out = append(out, req.info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt < out[j].ExpiresAt })
	return out
}

// ConnectionInfo reports any known request, terminal ones included.
func (k *Keyring) ConnectionInfo(id string) (*ConnectionInfo, error) {
	r := k.conns
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.reqs[id]
	if !ok {
		return nil, prt.ErrNotFound.WithMessage("connection request %s not found", id)
	}
	info := req.info
	return &info, nil
}

// AcceptConnection creates an external source with the chosen proposed
// accounts (all of them when accounts is empty).
func (k *Keyring) AcceptConnection(id string, accounts []string) (*ConnectionInfo, error) {
	req, err := k.conns.claim(id, ConnectionAccepted)
	if err != nil {
		return nil, err
	}

	sourceID, err := k.acceptConnection(req, accounts)
	if err != nil {
		if k.conns.rollback(req) {
			k.emit(Event{Kind: EventConnectionRequestsChanged})
		}
		return nil, err
	}

	r := k.conns
	r.mu.Lock()
	req.info.SourceID = sourceID
	r.settle(req, ConnectionAccepted)
	info := req.info
	r.mu.Unlock()

	log.Info("connection request accepted: ", id)
	k.emit(Event{Kind: EventConnectionRequestsChanged})
	return &info, nil
}

func (k *Keyring) acceptConnection(req *connRequest, accounts []string) (string, error) {
	chosen, err := selectAccounts(req.info.ProposedAccounts, accounts)
	if err != nil {
		return "", err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.requireUnlocked(); err != nil {
		return "", err
	}

	src, _, err := k.newSource(SourceArgs{
		Type:         wallet.SourceExternal,
		Label:        req.info.Service,
		Counterparty: req.info.Counterparty,
		External: wallet.ExternalSecret{
			Service: req.info.Service,
			URL:     req.info.URL,
			Token:   req.token,
		},
	})
	if err != nil {
		return "", err
	}

	now := k.now().UnixNano()
	var accts []*wallet.AccountRecord
	for _, a := range chosen {
		rec, err := wallet.NewExternalAccountRecord(src.ID, a, now)
		if err != nil {
			return "", err
		}
		addr, err := prt.AddressFromHex(rec.ID)
		if err != nil {
			return "", internal(err)
		}
		exists, err := k.hasAccount(addr)
		if err != nil {
			return "", err
		}
		if exists {
			return "", prt.ErrAccountAlreadyExists.WithMessage("account %s already exists", rec.ID)
		}
		accts = append(accts, rec)
	}

	if err := k.writeSource(src, accts); err != nil {
		return "", err
	}
	return src.ID, nil
}

func selectAccounts(proposed []wallet.ExternalAccount, ids []string) ([]wallet.ExternalAccount, error) {
	if len(ids) == 0 {
		return proposed, nil
	}
	var out []wallet.ExternalAccount
	for _, id := range ids {
		want, err := prt.AddressFromHex(id)
		if err != nil {
			return nil, prt.ErrInvalidRequest.WithMessage("invalid account id %q", id)
		}
		found := false
		for _, p := range proposed {
			if addr, err := prt.AddressFromHex(p.Address); err == nil && addr == want {
				out = append(out, p)
				found = true
				break
			}
		}
		if !found {
			return nil, prt.ErrInvalidRequest.WithMessage("account %s was not proposed", want.Hex())
		}
	}
	return out, nil
}

// RejectConnection settles a pending request without touching accounts.
func (k *Keyring) RejectConnection(id string) error {
	req, err := k.conns.claim(id, ConnectionRejected)
	if err != nil {
		return err
	}

	r := k.conns
	r.mu.Lock()
	r.settle(req, ConnectionRejected)
	r.mu.Unlock()

	log.Info("connection request rejected: ", id)
	k.emit(Event{Kind: EventConnectionRequestsChanged})
	return nil
}
