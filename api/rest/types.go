package rest

import (
	"github.com/abcfe/abcfe-wallet/wallet"
)

// General response structure
type RestResp struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// Background status response
type StatusResp struct {
	Keyring   string `json:"keyring"`
	Migration string `json:"migration"`
	Clients   int    `json:"clients"`
	Network   string `json:"network"`
}

type PermissionReq struct {
	Origin      string   `json:"origin"`
	Favicon     string   `json:"favicon"`
	Permissions []string `json:"permissions"`
}

type TransactionReq struct {
	Origin    string `json:"origin"`
	AccountID string `json:"accountId"`
	Data      []byte `json:"data"` // base64 in JSON
}

// External custodian connection attempt
type ConnectionReq struct {
	Service      string                   `json:"service"`
	URL          string                   `json:"url"`
	Token        string                   `json:"token"`
	Counterparty string                   `json:"counterparty"`
	Accounts     []wallet.ExternalAccount `json:"accounts"`
}
