package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/abcfe/abcfe-wallet/common/utils"
	prt "github.com/abcfe/abcfe-wallet/protocol"
	"github.com/abcfe/abcfe-wallet/wallet"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	leveldbutil "github.com/syndtr/goleveldb/leveldb/util"
)

// Read only view of a vault database. Sealed payloads are never decrypted;
// only their size is shown.

type vaultMeta struct {
	Format    int
	KDF       struct{ Time, MemoryKiB uint32 }
	CreatedAt int64
}

type vaultSettings struct {
	LockTimeoutSec int64
	ActiveAccount  string
	Network        string
}

type migrationRecord struct {
	State     string
	Done      []string
	LastError string
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run tools/db_browser.go <db_path> [command]")
		fmt.Println("Commands:")
		fmt.Println("  meta      - Show vault metadata, settings and migration state")
		fmt.Println("  sources   - List all account sources")
		fmt.Println("  accounts  - List all accounts")
		fmt.Println("  source <id>       - Show specific source")
		fmt.Println("  account <address> - Show specific account")
		fmt.Println("  all       - Show all data")
		return
	}

	dbPath := os.Args[1]
	command := "meta"
	if len(os.Args) > 2 {
		command = os.Args[2]
	}

	// Open LevelDB read only so a running background is never disturbed
	db, err := leveldb.OpenFile(dbPath, &opt.Options{ReadOnly: true})
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	fmt.Printf("Database opened: %s\n\n", dbPath)

	switch command {
	case "meta":
		showMetadata(db)
	case "sources":
		listSources(db)
	case "accounts":
		listAccounts(db)
	case "source":
		if len(os.Args) < 4 {
			fmt.Println("Usage: go run tools/db_browser.go <db_path> source <id>")
			return
		}
		showSource(db, os.Args[3])
	case "account":
		if len(os.Args) < 4 {
			fmt.Println("Usage: go run tools/db_browser.go <db_path> account <address>")
			return
		}
		showAccount(db, os.Args[3])
	case "all":
		showMetadata(db)
		listSources(db)
		listAccounts(db)
	default:
		fmt.Printf("Unknown command: %s\n", command)
	}
}

func get(db *leveldb.DB, key []byte, v interface{}) error {
	raw, err := db.Get(key, nil)
	if err != nil {
		return err
	}
	return utils.DeserializeData(raw, v, utils.SerializationFormatCBOR)
}

func showMetadata(db *leveldb.DB) {
	fmt.Println("=== METADATA ===")

	var meta vaultMeta
	if err := get(db, utils.GetVaultMetaKey(), &meta); err != nil {
		fmt.Printf("Vault: Not found (%v)\n\n", err)
		return
	}
	fmt.Printf("Format: %d\n", meta.Format)
	fmt.Printf("KDF: argon2id t=%d m=%dKiB\n", meta.KDF.Time, meta.KDF.MemoryKiB)
	fmt.Printf("Created: %s\n", time.Unix(0, meta.CreatedAt).Format(time.RFC3339))

	var settings vaultSettings
	if err := get(db, utils.GetVaultSettingsKey(), &settings); err == nil {
		fmt.Printf("Lock timeout: %ds\n", settings.LockTimeoutSec)
		fmt.Printf("Active account: %s\n", settings.ActiveAccount)
		fmt.Printf("Network: %s\n", settings.Network)
	}

	var mig migrationRecord
	if err := get(db, utils.GetMigrationKey(), &mig); err == nil {
		fmt.Printf("Migration: %s (%d sources resealed)\n", mig.State, len(mig.Done))
		if mig.LastError != "" {
			fmt.Printf("Migration error: %s\n", mig.LastError)
		}
	}
	fmt.Println()
}

func listSources(db *leveldb.DB) {
	fmt.Println("=== ACCOUNT SOURCES ===")

	iter := db.NewIterator(leveldbutil.BytesPrefix([]byte(prt.PrefixSource)), nil)
	defer iter.Release()

	count := 0
	for iter.Next() {
		var src wallet.SourceRecord
		if err := utils.DeserializeData(iter.Value(), &src, utils.SerializationFormatCBOR); err != nil {
			fmt.Printf("%s: undecodable (%v)\n", iter.Key(), err)
			continue
		}
		fmt.Printf("%-10s %s format=%d counter=%d %s\n", src.Type, src.ID, src.Format, src.DerivationCounter, src.Label)
		count++
	}
	fmt.Printf("Total sources: %d\n\n", count)
}

func listAccounts(db *leveldb.DB) {
	fmt.Println("=== ACCOUNTS ===")

	iter := db.NewIterator(leveldbutil.BytesPrefix([]byte(prt.PrefixAccount)), nil)
	defer iter.Release()

	count := 0
	for iter.Next() {
		var acc wallet.AccountRecord
		if err := utils.DeserializeData(iter.Value(), &acc, utils.SerializationFormatCBOR); err != nil {
			fmt.Printf("%s: undecodable (%v)\n", iter.Key(), err)
			continue
		}
		fmt.Printf("%s %-9s source=%s index=%d %s\n", acc.ID, acc.Type, acc.SourceID, acc.Index, acc.Nickname)
		count++
	}
	fmt.Printf("Total accounts: %d\n\n", count)
}

func showSource(db *leveldb.DB, id string) {
	fmt.Printf("=== SOURCE %s ===\n", id)

	var src wallet.SourceRecord
	if err := get(db, utils.GetSourceKey(id), &src); err != nil {
		fmt.Printf("Source not found: %v\n", err)
		return
	}
	fmt.Printf("Type: %s\n", src.Type)
	fmt.Printf("Format: %d\n", src.Format)
	fmt.Printf("Derivation counter: %d\n", src.DerivationCounter)
	if src.Counterparty != "" {
		fmt.Printf("Counterparty: %s\n", src.Counterparty)
	}
	fmt.Printf("Sealed payload: %d bytes\n", len(src.Payload))
	fmt.Printf("Created: %s\n", time.Unix(0, src.CreatedAt).Format(time.RFC3339))
	fmt.Println()
}

func showAccount(db *leveldb.DB, address string) {
	fmt.Printf("=== ACCOUNT %s ===\n", address)

	addr, err := prt.AddressFromHex(address)
	if err != nil {
		fmt.Printf("Invalid address: %v\n", err)
		return
	}

	var acc wallet.AccountRecord
	if err := get(db, utils.GetAccountKey(addr), &acc); err != nil {
		fmt.Printf("Account not found: %v\n", err)
		return
	}
	fmt.Printf("Type: %s\n", acc.Type)
	fmt.Printf("Source: %s\n", acc.SourceID)
	fmt.Printf("Index: %d (%s)\n", acc.Index, wallet.DerivationPath(acc.Index))
	if len(acc.PublicKey) > 0 {
		fmt.Printf("Public key: %s\n", utils.BytesToHex(acc.PublicKey))
	}
	if acc.Nickname != "" {
		fmt.Printf("Nickname: %s\n", acc.Nickname)
	}
	fmt.Println()
}
