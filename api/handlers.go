package api

import (
	"time"

	"github.com/abcfe/abcfe-wallet/common/crypto"
	"github.com/abcfe/abcfe-wallet/common/utils"
	"github.com/abcfe/abcfe-wallet/keyring"
	"github.com/abcfe/abcfe-wallet/message"
	prt "github.com/abcfe/abcfe-wallet/protocol"
)

// with decodes the request payload into T before calling fn.
func with[T any](fn func(p *T) (interface{}, error)) handlerFunc {
	return func(req *message.Envelope) (interface{}, error) {
		p, err := message.Decode[T](req)
		if err != nil {
			return nil, err
		}
		return fn(p)
	}
}

func noPayload(fn func() (interface{}, error)) handlerFunc {
	return func(*message.Envelope) (interface{}, error) {
		return fn()
	}
}

func hexArg(name, s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	b, err := utils.HexToBytes(s)
	if err != nil {
		return nil, prt.ErrInvalidRequest.WithMessage("%s: %v", name, err)
	}
	return b, nil
}

// secretHex encodes b for the response and zeroes it.
func secretHex(b []byte) string {
	s := utils.BytesToHex(b)
	crypto.Zero(b)
	return s
}

func connectionRequest(info *keyring.ConnectionInfo) message.ConnectionRequest {
	return message.ConnectionRequest{
		ID:               info.ID,
		Service:          info.Service,
		URL:              info.URL,
		Counterparty:     info.Counterparty,
		ProposedAccounts: info.ProposedAccounts,
		Status:           string(info.Status),
		SourceID:         info.SourceID,
		ExpiresAt:        info.ExpiresAt,
	}
}

// handlerTable maps every request discriminant to its handler.
func (b *Backend) handlerTable() map[message.Type]handlerFunc {
	kr := b.kr
	return map[message.Type]handlerFunc{
		// keyring
		message.TypeCreateVault: with(func(p *message.CreateVaultRequest) (interface{}, error) {
			entropy, err := hexArg("entropy", p.Entropy)
			if err != nil {
				return nil, err
			}
			defer crypto.Zero(entropy)
			return nil, kr.CreateVault(p.Password, entropy)
		}),
		message.TypeUnlock: with(func(p *message.PasswordRequest) (interface{}, error) {
			return nil, kr.Unlock(p.Password)
		}),
		message.TypeLock: noPayload(func() (interface{}, error) {
			kr.Lock()
			return nil, nil
		}),
		message.TypeGetEntropy: with(func(p *message.PasswordRequest) (interface{}, error) {
			entropy, err := kr.GetEntropy(p.Password)
			if err != nil {
				return nil, err
			}
			return message.EntropyResponse{Entropy: secretHex(entropy)}, nil
		}),
		message.TypeSetLockTimeout: with(func(p *message.SetLockTimeoutRequest) (interface{}, error) {
			return nil, kr.SetLockTimeout(time.Duration(p.TimeoutMin) * time.Minute)
		}),
		message.TypeDeriveNextAccount: with(func(p *message.DeriveNextAccountRequest) (interface{}, error) {
			acct, err := kr.DeriveNextAccount(p.SourceID)
			if err != nil {
				return nil, err
			}
			return message.AccountResponse{Account: *acct}, nil
		}),
		message.TypeVerifyPassword: with(func(p *message.VerifyPasswordRequest) (interface{}, error) {
			return nil, kr.VerifyPassword(p.Password, p.Legacy)
		}),
		message.TypeExportAccount: with(func(p *message.ExportAccountRequest) (interface{}, error) {
			key, err := kr.ExportAccount(p.Password, p.AccountAddress)
			if err != nil {
				return nil, err
			}
			return message.ExportAccountResponse{PrivateKey: secretHex(key)}, nil
		}),
		message.TypeImportPrivateKey: with(func(p *message.ImportPrivateKeyRequest) (interface{}, error) {
			acct, err := kr.ImportPrivateKey(p.Password, p.KeyPair)
			if err != nil {
				return nil, err
			}
			return message.AccountResponse{Account: *acct}, nil
		}),
		message.TypeGetStatus: noPayload(func() (interface{}, error) {
			state, err := kr.State()
			if err != nil {
				return nil, err
			}
			mig, err := kr.MigrationStatus()
			if err != nil {
				return nil, err
			}
			return message.StatusResponse{State: string(state), Migration: string(mig)}, nil
		}),

		// method-payload
		message.TypeSignData: with(func(p *message.SignDataRequest) (interface{}, error) {
			sig, pub, err := kr.SignData(p.Address, p.Data)
			if err != nil {
				return nil, err
			}
			return message.SignDataResponse{Signature: sig, PublicKey: utils.BytesToHex(pub)}, nil
		}),
		message.TypeClearWallet: noPayload(func() (interface{}, error) {
			return nil, kr.ClearWallet()
		}),
		message.TypeSwitchAccount: with(func(p *message.AccountIDRequest) (interface{}, error) {
			acct, err := kr.SwitchAccount(p.AccountID)
			if err != nil {
				return nil, err
			}
			return message.AccountResponse{Account: *acct}, nil
		}),
		message.TypeGetStoredEntities: with(func(p *message.GetStoredEntitiesRequest) (interface{}, error) {
			ents, err := kr.GetStoredEntities(p.Type)
			if err != nil {
				return nil, err
			}
			return message.StoredEntitiesResponse{Accounts: ents.Accounts, AccountSources: ents.AccountSources}, nil
		}),
		message.TypeCreateAccountSource: with(func(p *message.CreateAccountSourceRequest) (interface{}, error) {
			entropy, err := hexArg("entropy", p.Entropy)
			if err != nil {
				return nil, err
			}
			defer crypto.Zero(entropy)

			args := keyring.SourceArgs{Type: p.Type, Password: p.Password, Label: p.Label, Entropy: entropy}
			if p.KeyPair != nil {
				args.KeyPair = *p.KeyPair
			}
			src, err := kr.CreateAccountSource(args)
			if err != nil {
				return nil, err
			}
			return message.AccountSourceResponse{Source: *src}, nil
		}),
		message.TypeCreateAccounts: with(func(p *message.SourceIDRequest) (interface{}, error) {
			accts, err := kr.CreateAccounts(p.SourceID)
			if err != nil {
				return nil, err
			}
			return message.AccountsResponse{Accounts: accts}, nil
		}),
		message.TypeDeleteAccountSourceByType: with(func(p *message.DeleteAccountSourceByTypeRequest) (interface{}, error) {
			n, err := kr.DeleteAccountSourceByType(p.Type)
			if err != nil {
				return nil, err
			}
			return message.DeletedResponse{Deleted: n}, nil
		}),
		message.TypeUnlockAccountSourceOrAccount: with(func(p *message.UnlockSourceOrAccountRequest) (interface{}, error) {
			return nil, kr.UnlockSource(p.ID, p.Password)
		}),
		message.TypeLockAccountSourceOrAccount: with(func(p *message.LockSourceOrAccountRequest) (interface{}, error) {
			return nil, kr.LockSource(p.ID)
		}),
		message.TypeSetAccountNickname: with(func(p *message.SetAccountNicknameRequest) (interface{}, error) {
			return nil, kr.SetAccountNickname(p.ID, p.Nickname)
		}),
		message.TypeGetStorageMigrationStatus: noPayload(func() (interface{}, error) {
			st, err := kr.MigrationStatus()
			if err != nil {
				return nil, err
			}
			return message.MigrationStatusResponse{Status: string(st)}, nil
		}),
		message.TypeDoStorageMigration: with(func(p *message.PasswordRequest) (interface{}, error) {
			return nil, kr.DoStorageMigration(keyring.MigrationInputs{Password: p.Password})
		}),
		message.TypeStoreLedgerAccountsPublicKeys: with(func(p *message.StoreLedgerAccountsPublicKeysRequest) (interface{}, error) {
			keys := make([]keyring.ExternalPublicKey, len(p.PublicKeys))
			for i, k := range p.PublicKeys {
				keys[i] = keyring.ExternalPublicKey{AccountID: k.AccountID, PublicKey: k.PublicKey}
			}
			return nil, kr.StoreExternalPublicKeys(keys)
		}),
		message.TypeGetAccountSourceEntropy: with(func(p *message.GetAccountSourceEntropyRequest) (interface{}, error) {
			entropy, err := kr.GetAccountSourceEntropy(p.SourceID, p.Password)
			if err != nil {
				return nil, err
			}
			return message.EntropyResponse{Entropy: secretHex(entropy)}, nil
		}),

		// external connection
		message.TypeGetPendingRequest: with(func(p *message.ConnectionRequestIDRequest) (interface{}, error) {
			info, err := kr.FetchPendingConnection(p.RequestID)
			if err != nil {
				return nil, err
			}
			return message.ConnectionRequestResponse{Request: connectionRequest(info)}, nil
		}),
		message.TypeGetQredoInfo: with(func(p *message.ConnectionRequestIDRequest) (interface{}, error) {
			info, err := kr.ConnectionInfo(p.RequestID)
			if err != nil {
				return nil, err
			}
			return message.ConnectionRequestResponse{Request: connectionRequest(info)}, nil
		}),
		message.TypeAcceptQredoConnection: with(func(p *message.AcceptConnectionRequest) (interface{}, error) {
			info, err := kr.AcceptConnection(p.RequestID, p.Accounts)
			if err != nil {
				return nil, err
			}
			return message.ConnectionRequestResponse{Request: connectionRequest(info)}, nil
		}),
		message.TypeRejectQredoConnection: with(func(p *message.ConnectionRequestIDRequest) (interface{}, error) {
			return nil, kr.RejectConnection(p.RequestID)
		}),

		// dapp
		message.TypePermissionResponse: with(func(p *message.PermissionResponse) (interface{}, error) {
			return nil, b.dapp.RespondPermission(*p)
		}),
		message.TypeDisconnectApp: with(func(p *message.DisconnectAppRequest) (interface{}, error) {
			return nil, b.dapp.DisconnectApp(p.Origin)
		}),
		message.TypeGetPermissionRequests: noPayload(func() (interface{}, error) {
			return message.PermissionRequestsResponse{Requests: b.dapp.PermissionRequests()}, nil
		}),
		message.TypeGetTransactionRequests: noPayload(func() (interface{}, error) {
			return message.TransactionRequestsResponse{Requests: b.dapp.TransactionRequests()}, nil
		}),
		message.TypeTransactionRequestResponse: with(func(p *message.TransactionRequestResponse) (interface{}, error) {
			return nil, b.dapp.RespondTransaction(p.ID, p.Approved)
		}),
		message.TypeSetNetwork: with(func(p *message.NetworkRequest) (interface{}, error) {
			return nil, b.dapp.SetNetwork(p.Network)
		}),
		message.TypeGetFeatures: noPayload(func() (interface{}, error) {
			return message.FeaturesResponse{Features: b.dapp.Features()}, nil
		}),
		message.TypeGetNetwork: noPayload(func() (interface{}, error) {
			return b.dapp.Network()
		}),
	}
}
