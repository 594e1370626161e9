package protocol

const (
	// Vault level records
	PrefixVaultMeta      = "vault:meta"      // Format, password hash, vault key salt
	PrefixVaultSettings  = "vault:settings"  // Lock timeout, active account, network
	PrefixVaultMigration = "vault:migration" // Migration state + checkpoint

	// Account source records
	PrefixSource = "src:" // src:SourceID = SourceRecord (sealed payload)

	// Account records
	PrefixAccount = "acct:" // acct:0xAddress = AccountRecord
)
