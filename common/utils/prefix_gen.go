package utils

import (
	prt "github.com/abcfe/abcfe-wallet/protocol"
)

// "src:"
func GetSourceKey(id string) []byte {
	return []byte(prt.PrefixSource + id)
}

// "acct:"
func GetAccountKey(addr prt.Address) []byte {
	return []byte(prt.PrefixAccount + addr.Hex())
}

// "vault:meta"
func GetVaultMetaKey() []byte {
	return []byte(prt.PrefixVaultMeta)
}

// "vault:settings"
func GetVaultSettingsKey() []byte {
	return []byte(prt.PrefixVaultSettings)
}

// "vault:migration"
func GetMigrationKey() []byte {
	return []byte(prt.PrefixVaultMigration)
}
