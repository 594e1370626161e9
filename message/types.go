package message

// Type is the discriminant of an envelope payload.
type Type string

// keyring requests
const (
	TypeCreateVault       Type = "keyring:create"
	TypeUnlock            Type = "keyring:unlock"
	TypeLock              Type = "keyring:lock"
	TypeGetEntropy        Type = "keyring:getEntropy"
	TypeSetLockTimeout    Type = "keyring:setLockTimeout"
	TypeDeriveNextAccount Type = "keyring:deriveNextAccount"
	TypeVerifyPassword    Type = "keyring:verifyPassword"
	TypeExportAccount     Type = "keyring:exportAccount"
	TypeImportPrivateKey  Type = "keyring:importPrivateKey"
	TypeGetStatus         Type = "keyring:getStatus"

	// sent as a broadcast by the UI, never answered
	TypeAppStatusUpdate Type = "keyring:appStatusUpdate"
)

// method-payload requests
const (
	TypeSignData                      Type = "method-payload:signData"
	TypeClearWallet                   Type = "method-payload:clearWallet"
	TypeSwitchAccount                 Type = "method-payload:switchAccount"
	TypeGetStoredEntities             Type = "method-payload:getStoredEntities"
	TypeCreateAccountSource           Type = "method-payload:createAccountSource"
	TypeCreateAccounts                Type = "method-payload:createAccounts"
	TypeDeleteAccountSourceByType     Type = "method-payload:deleteAccountSourceByType"
	TypeUnlockAccountSourceOrAccount  Type = "method-payload:unlockAccountSourceOrAccount"
	TypeLockAccountSourceOrAccount    Type = "method-payload:lockAccountSourceOrAccount"
	TypeSetAccountNickname            Type = "method-payload:setAccountNickname"
	TypeGetStorageMigrationStatus     Type = "method-payload:getStorageMigrationStatus"
	TypeDoStorageMigration            Type = "method-payload:doStorageMigration"
	TypeStoreLedgerAccountsPublicKeys Type = "method-payload:storeLedgerAccountsPublicKeys"
	TypeGetAccountSourceEntropy       Type = "method-payload:getAccountSourceEntropy"
)

// external connection requests
const (
	TypeGetPendingRequest     Type = "qredo-connect:getPendingRequest"
	TypeGetQredoInfo          Type = "qredo-connect:getQredoInfo"
	TypeAcceptQredoConnection Type = "qredo-connect:acceptQredoConnection"
	TypeRejectQredoConnection Type = "qredo-connect:rejectQredoConnection"
)

// dapp capability requests
const (
	TypePermissionResponse         Type = "permission-response"
	TypeDisconnectApp              Type = "disconnect-app"
	TypeGetPermissionRequests      Type = "get-permission-requests"
	TypeGetTransactionRequests     Type = "get-transaction-requests"
	TypeTransactionRequestResponse Type = "transaction-request-response"
	TypeSetNetwork                 Type = "set-network"
	TypeGetFeatures                Type = "get-features"
	TypeGetNetwork                 Type = "get-network"
)

// broadcasts from the background
const (
	TypePermissionRequestsUpdated  Type = "permission-requests-updated"
	TypeTransactionRequestsUpdated Type = "transaction-requests-updated"
	TypeActiveOriginChanged        Type = "active-origin-changed"
	TypeFeaturesLoaded             Type = "features-loaded"
	TypeNetworkChanged             Type = "network-changed"
	TypeEntityUpdated              Type = "entity-updated"
	TypeLockStatusChanged          Type = "keyring:lockStatusChanged"
)

// responses
const (
	TypeDone  Type = "done"
	TypeError Type = "error"

	TypeEntropyResponse             Type = "keyring:entropy"
	TypeAccountResponse             Type = "keyring:account"
	TypeExportAccountResponse       Type = "keyring:exportedAccount"
	TypeStatusResponse              Type = "keyring:status"
	TypeSignDataResponse            Type = "method-payload:signDataResponse"
	TypeStoredEntitiesResponse      Type = "method-payload:storedEntities"
	TypeAccountSourceResponse       Type = "method-payload:accountSource"
	TypeAccountsResponse            Type = "method-payload:accounts"
	TypeDeletedResponse             Type = "method-payload:deleted"
	TypeMigrationStatusResponse     Type = "method-payload:storageMigrationStatus"
	TypeConnectionRequestResponse   Type = "qredo-connect:request"
	TypePermissionRequestsResponse  Type = "permission-requests"
	TypeTransactionRequestsResponse Type = "transaction-requests"
	TypeFeaturesResponse            Type = "features"
	TypeNetworkResponse             Type = "network"
)

// responseTypes maps every request to its one success response.
var responseTypes = map[Type]Type{
	TypeCreateVault:       TypeDone,
	TypeUnlock:            TypeDone,
	TypeLock:              TypeDone,
	TypeGetEntropy:        TypeEntropyResponse,
	TypeSetLockTimeout:    TypeDone,
	TypeDeriveNextAccount: TypeAccountResponse,
	TypeVerifyPassword:    TypeDone,
	TypeExportAccount:     TypeExportAccountResponse,
	TypeImportPrivateKey:  TypeAccountResponse,
	TypeGetStatus:         TypeStatusResponse,

	TypeSignData:                      TypeSignDataResponse,
	TypeClearWallet:                   TypeDone,
	TypeSwitchAccount:                 TypeAccountResponse,
	TypeGetStoredEntities:             TypeStoredEntitiesResponse,
	TypeCreateAccountSource:           TypeAccountSourceResponse,
	TypeCreateAccounts:                TypeAccountsResponse,
	TypeDeleteAccountSourceByType:     TypeDeletedResponse,
	TypeUnlockAccountSourceOrAccount:  TypeDone,
	TypeLockAccountSourceOrAccount:    TypeDone,
	TypeSetAccountNickname:            TypeDone,
	TypeGetStorageMigrationStatus:     TypeMigrationStatusResponse,
	TypeDoStorageMigration:            TypeDone,
	TypeStoreLedgerAccountsPublicKeys: TypeDone,
	TypeGetAccountSourceEntropy:       TypeEntropyResponse,

	TypeGetPendingRequest:     TypeConnectionRequestResponse,
	TypeGetQredoInfo:          TypeConnectionRequestResponse,
	TypeAcceptQredoConnection: TypeConnectionRequestResponse,
	TypeRejectQredoConnection: TypeDone,

	TypePermissionResponse:         TypeDone,
	TypeDisconnectApp:              TypeDone,
	TypeGetPermissionRequests:      TypePermissionRequestsResponse,
	TypeGetTransactionRequests:     TypeTransactionRequestsResponse,
	TypeTransactionRequestResponse: TypeDone,
	TypeSetNetwork:                 TypeDone,
	TypeGetFeatures:                TypeFeaturesResponse,
	TypeGetNetwork:                 TypeNetworkResponse,
}

// ResponseTypeFor returns the success response discriminant of a request.
func ResponseTypeFor(t Type) (Type, bool) {
	r, ok := responseTypes[t]
	return r, ok
}

// RequestTypes lists every request discriminant.
func RequestTypes() []Type {
	out := make([]Type, 0, len(responseTypes))
	for t := range responseTypes {
		out = append(out, t)
	}
	return out
}

// PasswordBearing reports whether requests of type t carry a password and
// are subject to attempt throttling.
func PasswordBearing(t Type) bool {
	switch t {
	case TypeUnlock, TypeGetEntropy, TypeVerifyPassword, TypeExportAccount,
		TypeImportPrivateKey, TypeCreateAccountSource, TypeUnlockAccountSourceOrAccount,
		TypeDoStorageMigration, TypeGetAccountSourceEntropy:
		return true
	}
	return false
}
