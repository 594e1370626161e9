package session

import (
	"context"

	"github.com/abcfe/abcfe-wallet/common/utils"
	"github.com/abcfe/abcfe-wallet/message"
	prt "github.com/abcfe/abcfe-wallet/protocol"
	"github.com/abcfe/abcfe-wallet/wallet"
)

func fromHex(s string) ([]byte, error) {
	b, err := utils.HexToBytes(s)
	if err != nil {
		return nil, prt.ErrUnexpectedResponseShape.WithMessage("%v", err)
	}
	return b, nil
}

// CreateVault initializes the vault. A nil entropy lets the background
// generate one.
func (f *Facade) CreateVault(ctx context.Context, password string, entropy []byte) error {
	req := message.CreateVaultRequest{Password: password}
	if entropy != nil {
		req.Entropy = utils.BytesToHex(entropy)
	}
	return f.call(ctx, message.TypeCreateVault, req, nil)
}

func (f *Facade) Unlock(ctx context.Context, password string) error {
	return f.call(ctx, message.TypeUnlock, message.PasswordRequest{Password: password}, nil)
}

func (f *Facade) Lock(ctx context.Context) error {
	return f.call(ctx, message.TypeLock, nil, nil)
}

func (f *Facade) GetEntropy(ctx context.Context, password string) ([]byte, error) {
	var resp message.EntropyResponse
	if err := f.call(ctx, message.TypeGetEntropy, message.PasswordRequest{Password: password}, &resp); err != nil {
		return nil, err
	}
	return fromHex(resp.Entropy)
}

func (f *Facade) SetLockTimeout(ctx context.Context, minutes int) error {
	return f.call(ctx, message.TypeSetLockTimeout, message.SetLockTimeoutRequest{TimeoutMin: minutes}, nil)
}

// DeriveNextAccount derives from sourceID, or from the primary mnemonic
// source when sourceID is empty.
func (f *Facade) DeriveNextAccount(ctx context.Context, sourceID string) (*wallet.Account, error) {
	var resp message.AccountResponse
	if err := f.call(ctx, message.TypeDeriveNextAccount, message.DeriveNextAccountRequest{SourceID: sourceID}, &resp); err != nil {
		return nil, err
	}
	return &resp.Account, nil
}

func (f *Facade) VerifyPassword(ctx context.Context, password string, legacy bool) error {
	return f.call(ctx, message.TypeVerifyPassword, message.VerifyPasswordRequest{Password: password, Legacy: legacy}, nil)
}

// ExportAccount returns the raw private key. Callers must not retry on failure.
func (f *Facade) ExportAccount(ctx context.Context, password, address string) ([]byte, error) {
	var resp message.ExportAccountResponse
	req := message.ExportAccountRequest{Password: password, AccountAddress: address}
	if err := f.call(ctx, message.TypeExportAccount, req, &resp); err != nil {
		return nil, err
	}
	return fromHex(resp.PrivateKey)
}

func (f *Facade) ImportPrivateKey(ctx context.Context, password string, kp wallet.KeyPair) (*wallet.Account, error) {
	var resp message.AccountResponse
	req := message.ImportPrivateKeyRequest{Password: password, KeyPair: kp}
	if err := f.call(ctx, message.TypeImportPrivateKey, req, &resp); err != nil {
		return nil, err
	}
	return &resp.Account, nil
}

// Status reports the keyring and migration state and refreshes the mirrored
// lock flag.
func (f *Facade) Status(ctx context.Context) (*message.StatusResponse, error) {
	var resp message.StatusResponse
	if err := f.call(ctx, message.TypeGetStatus, nil, &resp); err != nil {
		return nil, err
	}
	f.update(func(s *State) { s.Locked = resp.State != message.StateUnlocked })
	return &resp, nil
}

func (f *Facade) SignData(ctx context.Context, address string, data []byte) ([]byte, string, error) {
	var resp message.SignDataResponse
	if err := f.call(ctx, message.TypeSignData, message.SignDataRequest{Address: address, Data: data}, &resp); err != nil {
		return nil, "", err
	}
	return resp.Signature, resp.PublicKey, nil
}

func (f *Facade) ClearWallet(ctx context.Context) error {
	return f.call(ctx, message.TypeClearWallet, nil, nil)
}

func (f *Facade) SwitchAccount(ctx context.Context, accountID string) (*wallet.Account, error) {
	var resp message.AccountResponse
	if err := f.call(ctx, message.TypeSwitchAccount, message.AccountIDRequest{AccountID: accountID}, &resp); err != nil {
		return nil, err
	}
	return &resp.Account, nil
}

// GetStoredEntities lists accounts, account sources or, for an empty kind, both.
func (f *Facade) GetStoredEntities(ctx context.Context, kind string) (*message.StoredEntitiesResponse, error) {
	var resp message.StoredEntitiesResponse
	if err := f.call(ctx, message.TypeGetStoredEntities, message.GetStoredEntitiesRequest{Type: kind}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (f *Facade) CreateAccountSource(ctx context.Context, req message.CreateAccountSourceRequest) (*wallet.AccountSource, error) {
	var resp message.AccountSourceResponse
	if err := f.call(ctx, message.TypeCreateAccountSource, req, &resp); err != nil {
		return nil, err
	}
	return &resp.Source, nil
}

func (f *Facade) CreateAccounts(ctx context.Context, sourceID string) ([]wallet.Account, error) {
	var resp message.AccountsResponse
	if err := f.call(ctx, message.TypeCreateAccounts, message.SourceIDRequest{SourceID: sourceID}, &resp); err != nil {
		return nil, err
	}
	return resp.Accounts, nil
}

func (f *Facade) DeleteAccountSourceByType(ctx context.Context, t wallet.SourceType) (int, error) {
	var resp message.DeletedResponse
	if err := f.call(ctx, message.TypeDeleteAccountSourceByType, message.DeleteAccountSourceByTypeRequest{Type: t}, &resp); err != nil {
		return 0, err
	}
	return resp.Deleted, nil
}

// UnlockAccountSourceOrAccount unlocks the source named by id, which may be
// a source id or one of its account ids.
func (f *Facade) UnlockAccountSourceOrAccount(ctx context.Context, id, password string) error {
	return f.call(ctx, message.TypeUnlockAccountSourceOrAccount, message.UnlockSourceOrAccountRequest{ID: id, Password: password}, nil)
}

func (f *Facade) LockAccountSourceOrAccount(ctx context.Context, id string) error {
	return f.call(ctx, message.TypeLockAccountSourceOrAccount, message.LockSourceOrAccountRequest{ID: id}, nil)
}

func (f *Facade) SetAccountNickname(ctx context.Context, id, nickname string) error {
	return f.call(ctx, message.TypeSetAccountNickname, message.SetAccountNicknameRequest{ID: id, Nickname: nickname}, nil)
}

func (f *Facade) GetStorageMigrationStatus(ctx context.Context) (string, error) {
	var resp message.MigrationStatusResponse
	if err := f.call(ctx, message.TypeGetStorageMigrationStatus, nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

func (f *Facade) DoStorageMigration(ctx context.Context, password string) error {
	return f.call(ctx, message.TypeDoStorageMigration, message.PasswordRequest{Password: password}, nil)
}

func (f *Facade) StoreLedgerAccountsPublicKeys(ctx context.Context, keys []message.LedgerPublicKey) error {
	return f.call(ctx, message.TypeStoreLedgerAccountsPublicKeys, message.StoreLedgerAccountsPublicKeysRequest{PublicKeys: keys}, nil)
}

func (f *Facade) GetAccountSourceEntropy(ctx context.Context, sourceID, password string) ([]byte, error) {
	var resp message.EntropyResponse
	req := message.GetAccountSourceEntropyRequest{SourceID: sourceID, Password: password}
	if err := f.call(ctx, message.TypeGetAccountSourceEntropy, req, &resp); err != nil {
		return nil, err
	}
	return fromHex(resp.Entropy)
}
