package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/abcfe/abcfe-wallet/common/crypto"
	"github.com/abcfe/abcfe-wallet/common/utils"
	conf "github.com/abcfe/abcfe-wallet/config"
	"github.com/abcfe/abcfe-wallet/keyring"
	"github.com/abcfe/abcfe-wallet/session"
	"github.com/abcfe/abcfe-wallet/transport"
	"github.com/abcfe/abcfe-wallet/wallet"
	"github.com/spf13/cobra"
)

var (
	password string
	timeout  time.Duration
)

func vaultCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Vault commands against a running background",
		Long:  `Client commands. Each opens a UI channel to the background over websocket, issues requests and exits.`,
	}

	cmd.PersistentFlags().StringVarP(&password, "password", "p", os.Getenv("ABCFE_WALLET_PASSWORD"), "Vault password (default $ABCFE_WALLET_PASSWORD)")
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall command timeout")

	cmd.AddCommand(vaultCreateCmd())
	cmd.AddCommand(vaultUnlockCmd())
	cmd.AddCommand(vaultLockCmd())
	cmd.AddCommand(vaultStatusCmd())
	cmd.AddCommand(vaultDeriveCmd())
	cmd.AddCommand(vaultAccountsCmd())
	cmd.AddCommand(vaultExportCmd())
	cmd.AddCommand(vaultImportCmd())
	cmd.AddCommand(vaultImportKeystoreCmd())
	cmd.AddCommand(vaultMigrateCmd())

	return cmd
}

// loadClientConfig falls back to defaults so client commands work without a
// project checkout.
func loadClientConfig() *conf.Config {
	cfg, err := conf.NewConfig(configFile)
	if err != nil {
		return conf.Default()
	}
	return cfg
}

// withFacade connects to the background, runs fn and tears the channel down.
func withFacade(fn func(ctx context.Context, f *session.Facade, cfg *conf.Config) error) error {
	cfg := loadClientConfig()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	f := session.New(transport.DialWS(cfg.Session.Endpoint), session.OptionsFromConfig(cfg))
	f.Start(ctx)
	defer f.Close()

	if err := f.WaitConnected(ctx); err != nil {
		return fmt.Errorf("background not reachable at %s: %w", cfg.Session.Endpoint, err)
	}
	return fn(ctx, f, cfg)
}

func run(fn func(ctx context.Context, f *session.Facade, cfg *conf.Config) error) func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		if err := withFacade(fn); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	}
}

func requirePassword() error {
	if password == "" {
		return fmt.Errorf("a password is required (--password or $ABCFE_WALLET_PASSWORD)")
	}
	return nil
}

func vaultCreateCmd() *cobra.Command {
	var mnemonic string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create the vault, optionally from an existing mnemonic",
		Run: run(func(ctx context.Context, f *session.Facade, _ *conf.Config) error {
			if err := requirePassword(); err != nil {
				return err
			}

			var entropy []byte
			if mnemonic != "" {
				e, err := wallet.EntropyFromMnemonic(strings.TrimSpace(mnemonic))
				if err != nil {
					return err
				}
				entropy = e
				defer crypto.Zero(entropy)
			}
			if err := f.CreateVault(ctx, password, entropy); err != nil {
				return err
			}

			fmt.Println("=== Vault Created ===")
			if mnemonic == "" {
				fmt.Println("")
				fmt.Println("Run 'vault unlock' and then 'vault export --mnemonic' to back up your recovery phrase.")
			}
			return nil
		}),
	}

	cmd.Flags().StringVarP(&mnemonic, "mnemonic", "m", "", "Mnemonic phrase to restore from")
	return cmd
}

func vaultUnlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock",
		Short: "Unlock the vault",
		Run: run(func(ctx context.Context, f *session.Facade, _ *conf.Config) error {
			if err := requirePassword(); err != nil {
				return err
			}
			if err := f.Unlock(ctx, password); err != nil {
				return err
			}
			fmt.Println("Vault unlocked")
			return nil
		}),
	}
}

func vaultLockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lock",
		Short: "Lock the vault",
		Run: run(func(ctx context.Context, f *session.Facade, _ *conf.Config) error {
			if err := f.Lock(ctx); err != nil {
				return err
			}
			fmt.Println("Vault locked")
			return nil
		}),
	}
}

func vaultStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show keyring and migration state",
		Run: run(func(ctx context.Context, f *session.Facade, _ *conf.Config) error {
			st, err := f.Status(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Keyring:   %s\n", st.State)
			fmt.Printf("Migration: %s\n", st.Migration)

			if net, err := f.GetNetwork(ctx); err == nil {
				fmt.Printf("Network:   %s\n", net.Network)
			}
			return nil
		}),
	}
}

func vaultDeriveCmd() *cobra.Command {
	var sourceID string

	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Derive the next account of a mnemonic source",
		Run: run(func(ctx context.Context, f *session.Facade, _ *conf.Config) error {
			acc, err := f.DeriveNextAccount(ctx, sourceID)
			if err != nil {
				return err
			}
			fmt.Println("=== New Account Derived ===")
			fmt.Printf("Index: %d\n", acc.Index)
			fmt.Printf("Address: %s\n", acc.ID)
			fmt.Printf("Path: %s\n", wallet.DerivationPath(acc.Index))
			return nil
		}),
	}

	cmd.Flags().StringVarP(&sourceID, "source", "s", "", "Source id (default: the vault's own mnemonic)")
	return cmd
}

func vaultAccountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List accounts and sources",
		Run: run(func(ctx context.Context, f *session.Facade, _ *conf.Config) error {
			srcs, err := f.GetStoredEntities(ctx, keyring.EntityAccountSources)
			if err != nil {
				return err
			}
			accs, err := f.GetStoredEntities(ctx, keyring.EntityAccounts)
			if err != nil {
				return err
			}

			fmt.Println("=== Account Sources ===")
			for _, s := range srcs.AccountSources {
				fmt.Printf("[%s] %s %s (%s)\n", s.Type, s.ID, s.Label, s.LockState)
			}
			fmt.Println("")
			fmt.Println("=== Accounts ===")
			for _, a := range accs.Accounts {
				name := a.Nickname
				if name == "" {
					name = "-"
				}
				fmt.Printf("%s  %-9s %-8s %s\n", a.ID, a.Type, a.LockState, name)
			}
			return nil
		}),
	}
}

func vaultExportCmd() *cobra.Command {
	var (
		address     string
		keystore    string
		keystorePwd string
		mnemonic    bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export an account key or the recovery phrase",
		Run: run(func(ctx context.Context, f *session.Facade, cfg *conf.Config) error {
			if err := requirePassword(); err != nil {
				return err
			}

			if mnemonic {
				entropy, err := f.GetEntropy(ctx, password)
				if err != nil {
					return err
				}
				defer crypto.Zero(entropy)
				phrase, err := wallet.MnemonicFromEntropy(entropy)
				if err != nil {
					return err
				}
				fmt.Println("WARNING: Never share your mnemonic with anyone!")
				fmt.Println("")
				fmt.Printf("Mnemonic: %s\n", phrase)
				return nil
			}

			if address == "" {
				return fmt.Errorf("--address is required")
			}
			key, err := f.ExportAccount(ctx, password, address)
			if err != nil {
				return err
			}
			defer crypto.Zero(key)

			if keystore == "" {
				fmt.Println("WARNING: Never share your private key with anyone!")
				fmt.Println("")
				fmt.Printf("Private key: %s\n", utils.BytesToHex(key))
				return nil
			}

			if keystorePwd == "" {
				keystorePwd = password
			}
			c, err := wallet.EncryptKeystore(key, []byte(keystorePwd), crypto.ScryptParams{
				N: cfg.Keyring.KeystoreScryptN,
				R: 8,
				P: cfg.Keyring.KeystoreScryptP,
			})
			if err != nil {
				return err
			}
			b, err := wallet.MarshalKeystore(c)
			if err != nil {
				return err
			}
			if err := os.WriteFile(keystore, b, 0600); err != nil {
				return err
			}
			fmt.Printf("Keystore written to: %s\n", keystore)
			return nil
		}),
	}

	cmd.Flags().StringVarP(&address, "address", "a", "", "Account address")
	cmd.Flags().StringVar(&keystore, "keystore", "", "Write an encrypted keystore file instead of printing the key")
	cmd.Flags().StringVar(&keystorePwd, "keystore-password", "", "Keystore file password (default: vault password)")
	cmd.Flags().BoolVar(&mnemonic, "mnemonic", false, "Export the vault recovery phrase")
	return cmd
}

func vaultImportCmd() *cobra.Command {
	var privateKey string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a raw private key",
		Run: run(func(ctx context.Context, f *session.Facade, _ *conf.Config) error {
			if err := requirePassword(); err != nil {
				return err
			}
			acc, err := f.ImportPrivateKey(ctx, password, wallet.KeyPair{PrivateKey: privateKey})
			if err != nil {
				return err
			}
			fmt.Println("=== Key Imported ===")
			fmt.Printf("Address: %s\n", acc.ID)
			return nil
		}),
	}

	cmd.Flags().StringVarP(&privateKey, "key", "k", "", "Hex encoded private key")
	return cmd
}

func vaultImportKeystoreCmd() *cobra.Command {
	var keystorePwd string

	cmd := &cobra.Command{
		Use:   "import-keystore <file>",
		Short: "Import a key from an encrypted keystore file",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			run(func(ctx context.Context, f *session.Facade, _ *conf.Config) error {
				if err := requirePassword(); err != nil {
					return err
				}
				b, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				c, err := wallet.UnmarshalKeystore(b)
				if err != nil {
					return err
				}
				if keystorePwd == "" {
					keystorePwd = password
				}
				key, err := wallet.DecryptKeystore(c, []byte(keystorePwd))
				if err != nil {
					return err
				}
				defer crypto.Zero(key)

				acc, err := f.ImportPrivateKey(ctx, password, wallet.KeyPair{PrivateKey: utils.BytesToHex(key)})
				if err != nil {
					return err
				}
				fmt.Println("=== Keystore Imported ===")
				fmt.Printf("Address: %s\n", acc.ID)
				return nil
			})(cmd, args)
		},
	}

	cmd.Flags().StringVar(&keystorePwd, "keystore-password", "", "Keystore file password (default: vault password)")
	return cmd
}

func vaultMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Re-encrypt a legacy vault in the current format",
		Run: run(func(ctx context.Context, f *session.Facade, _ *conf.Config) error {
			status, err := f.GetStorageMigrationStatus(ctx)
			if err != nil {
				return err
			}
			if status != string(keyring.MigrationPending) && status != string(keyring.MigrationFailed) {
				fmt.Printf("Nothing to migrate (%s)\n", status)
				return nil
			}
			if err := requirePassword(); err != nil {
				return err
			}
			if err := f.DoStorageMigration(ctx, password); err != nil {
				return err
			}
			fmt.Println("Vault migrated")
			return nil
		}),
	}
}
