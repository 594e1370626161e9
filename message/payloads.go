package message

import (
	"github.com/abcfe/abcfe-wallet/wallet"
)

type CreateVaultRequest struct {
	Password string `json:"password"`
	Entropy  string `json:"entropy,omitempty"` // hex, generated when empty
}

type PasswordRequest struct {
	Password string `json:"password"`
}

type EntropyResponse struct {
	Entropy string `json:"entropy"` // hex
}

type SetLockTimeoutRequest struct {
	TimeoutMin int `json:"timeoutMin"`
}

type DeriveNextAccountRequest struct {
	SourceID string `json:"sourceId,omitempty"`
}

type AccountResponse struct {
	Account wallet.Account `json:"account"`
}

type VerifyPasswordRequest struct {
	Password string `json:"password"`
	Legacy   bool   `json:"legacy"`
}

type ExportAccountRequest struct {
	Password       string `json:"password"`
	AccountAddress string `json:"accountAddress"`
}

type ExportAccountResponse struct {
	PrivateKey string `json:"privateKey"` // hex
}

type ImportPrivateKeyRequest struct {
	Password string         `json:"password"`
	KeyPair  wallet.KeyPair `json:"keyPair"`
}

// keyring states reported by keyring:getStatus
const (
	StateUninitialized = "Uninitialized"
	StateLocked        = "Locked"
	StateUnlocked      = "Unlocked"
)

type StatusResponse struct {
	State     string `json:"state"`
	Migration string `json:"migration"`
}

type AppStatusUpdate struct {
	Active bool `json:"active"`
}

type SignDataRequest struct {
	Address string `json:"address"`
	Data    []byte `json:"data"`
}

type SignDataResponse struct {
	Signature []byte `json:"signature"`
	PublicKey string `json:"publicKey"`
}

type AccountIDRequest struct {
	AccountID string `json:"accountId"`
}

type GetStoredEntitiesRequest struct {
	Type string `json:"type,omitempty"` // accounts, accountSources or both when empty
}

type StoredEntitiesResponse struct {
	Accounts       []wallet.Account       `json:"accounts,omitempty"`
	AccountSources []wallet.AccountSource `json:"accountSources,omitempty"`
}

type CreateAccountSourceRequest struct {
	Type     wallet.SourceType `json:"type"`
	Password string            `json:"password"`
	Label    string            `json:"label,omitempty"`
	Entropy  string            `json:"entropy,omitempty"`
	KeyPair  *wallet.KeyPair   `json:"keyPair,omitempty"`
}

type AccountSourceResponse struct {
	Source wallet.AccountSource `json:"source"`
}

type SourceIDRequest struct {
	SourceID string `json:"sourceId"`
}

type AccountsResponse struct {
	Accounts []wallet.Account `json:"accounts"`
}

type DeleteAccountSourceByTypeRequest struct {
	Type wallet.SourceType `json:"type"`
}

type DeletedResponse struct {
	Deleted int `json:"deleted"`
}

// ID may name an account source or an account.
type UnlockSourceOrAccountRequest struct {
	ID       string `json:"id"`
	Password string `json:"password"`
}

type LockSourceOrAccountRequest struct {
	ID string `json:"id"`
}

type SetAccountNicknameRequest struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
}

type MigrationStatusResponse struct {
	Status string `json:"status"`
}

type LedgerPublicKey struct {
	AccountID string `json:"accountId"`
	PublicKey string `json:"publicKey"`
}

type StoreLedgerAccountsPublicKeysRequest struct {
	PublicKeys []LedgerPublicKey `json:"publicKeys"`
}

type GetAccountSourceEntropyRequest struct {
	SourceID string `json:"sourceId"`
	Password string `json:"password"`
}

// ConnectionRequest is an external custodian connection as seen by the UI.
type ConnectionRequest struct {
	ID               string                   `json:"id"`
	Service          string                   `json:"service"`
	URL              string                   `json:"url"`
	Counterparty     string                   `json:"counterparty"`
	ProposedAccounts []wallet.ExternalAccount `json:"proposedAccounts"`
	Status           string                   `json:"status"`
	SourceID         string                   `json:"sourceId,omitempty"`
	ExpiresAt        int64                    `json:"expiresAt"`
}

type ConnectionRequestIDRequest struct {
	RequestID string `json:"requestId"`
}

type AcceptConnectionRequest struct {
	RequestID string   `json:"requestId"`
	Accounts  []string `json:"accounts,omitempty"`
}

type ConnectionRequestResponse struct {
	Request ConnectionRequest `json:"request"`
}

type PermissionRequest struct {
	ID          string   `json:"id"`
	Origin      string   `json:"origin"`
	Favicon     string   `json:"favicon,omitempty"`
	Permissions []string `json:"permissions"`
	Accounts    []string `json:"accounts,omitempty"`
	Responded   bool     `json:"responded"`
	Allowed     bool     `json:"allowed"`
	CreatedAt   int64    `json:"createdAt"`
}

type PermissionResponse struct {
	ID       string   `json:"id"`
	Accounts []string `json:"accounts,omitempty"`
	Allowed  bool     `json:"allowed"`
}

type DisconnectAppRequest struct {
	Origin string `json:"origin"`
}

type PermissionRequestsResponse struct {
	Requests []PermissionRequest `json:"requests"`
}

type TransactionRequest struct {
	ID        string `json:"id"`
	Origin    string `json:"origin"`
	AccountID string `json:"accountId"`
	Data      []byte `json:"data"`
	Approved  *bool  `json:"approved,omitempty"`
	Signature []byte `json:"signature,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}

type TransactionRequestResponse struct {
	ID       string `json:"id"`
	Approved bool   `json:"approved"`
}

type TransactionRequestsResponse struct {
	Requests []TransactionRequest `json:"requests"`
}

type NetworkRequest struct {
	Network string `json:"network"`
}

type NetworkResponse struct {
	Network   string   `json:"network"`
	Available []string `json:"available,omitempty"`
}

type FeaturesResponse struct {
	Features map[string]bool `json:"features"`
}

// broadcast payloads

type PermissionRequestsUpdated struct {
	Requests []PermissionRequest `json:"requests"`
}

type TransactionRequestsUpdated struct {
	Requests []TransactionRequest `json:"requests"`
}

type ActiveOriginChanged struct {
	Origin  string `json:"origin"`
	Favicon string `json:"favicon,omitempty"`
}

type FeaturesLoaded struct {
	Features map[string]bool `json:"features"`
}

type NetworkChanged struct {
	Network string `json:"network"`
}

type EntityUpdated struct {
	Entity string `json:"entity"`
}

type LockStatusChanged struct {
	Locked bool `json:"locked"`
}
