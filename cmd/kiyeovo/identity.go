package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/kiyeovo/kiyeovo/config"
	"github.com/kiyeovo/kiyeovo/identity"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	identityKeyDir string
	identityRecover bool
)

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Manage the local identity vault",
}

var identityCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Generate a new identity and save it to the vault",
	RunE:  runIdentityCreate,
}

var identityUnlockCmd = &cobra.Command{
	Use:   "unlock <peer-id>",
	Short: "Decrypt and print the peer id of a saved identity",
	Args:  cobra.ExactArgs(1),
	RunE:  runIdentityUnlock,
}

func init() {
	rootCmd.AddCommand(identityCmd)
	identityCmd.AddCommand(identityCreateCmd)
	identityCmd.AddCommand(identityUnlockCmd)

	identityCmd.PersistentFlags().StringVar(&identityKeyDir, "key-dir", "", "vault directory (default: config identity.key_dir)")
	identityCreateCmd.Flags().BoolVar(&identityRecover, "with-recovery-phrase", false, "also print a BIP-39 recovery phrase")
}

func loadIdentityConfig() config.IdentityConfig {
	cfg := config.IdentityConfig{
		ScryptN:       1 << 15,
		CryptoTimeout: 60 * time.Second,
		KeyDir:        ".kiyeovo/identity",
	}
	if identityKeyDir != "" {
		cfg.KeyDir = identityKeyDir
	}
	return cfg
}

func openVault() (*identity.Vault, error) {
	cfg := loadIdentityConfig()
	store, err := identity.NewFileStore(cfg.KeyDir)
	if err != nil {
		return nil, err
	}
	return identity.NewVault(store, identity.Config{
		ScryptN:           cfg.ScryptN,
		LoadTimeout:       cfg.CryptoTimeout,
		MaxFailedAttempts: 10,
		CooldownDuration:  5 * time.Minute,
	}), nil
}

func runIdentityCreate(cmd *cobra.Command, args []string) error {
	id, err := identity.Create()
	if err != nil {
		return fmt.Errorf("create identity: %w", err)
	}

	password, err := promptNewPassword()
	if err != nil {
		return err
	}

	v, err := openVault()
	if err != nil {
		return err
	}

	mnemonic, err := v.Save(id, password, identityRecover)
	if err != nil {
		return fmt.Errorf("save vault: %w", err)
	}

	fmt.Printf("peer id: %s\n", id.PeerID)
	if identityRecover {
		fmt.Printf("recovery phrase (write this down, it will not be shown again):\n%s\n", mnemonic)
	}
	return nil
}

func runIdentityUnlock(cmd *cobra.Command, args []string) error {
	peerID := args[0]
	password, err := promptPassword("Password: ")
	if err != nil {
		return err
	}

	v, err := openVault()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), loadIdentityConfig().CryptoTimeout)
	defer cancel()

	id, err := v.Load(ctx, peerID, password)
	if err != nil {
		return fmt.Errorf("unlock vault: %w", err)
	}

	fmt.Printf("unlocked identity %s\n", id.PeerID)
	return nil
}

func promptNewPassword() (string, error) {
	for {
		pw, err := promptPassword("Choose a password: ")
		if err != nil {
			return "", err
		}
		if err := identity.ValidatePasswordPolicy(pw); err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		confirm, err := promptPassword("Confirm password: ")
		if err != nil {
			return "", err
		}
		if pw != confirm {
			fmt.Fprintln(os.Stderr, "passwords did not match, try again")
			continue
		}
		return pw, nil
	}
}

func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	if term.IsTerminal(int(syscall.Stdin)) {
		b, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
