package main

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"latticed/core"
	"latticed/internal/config"
)

// keygenCmd generates a new P-256 keypair under the configured key
// directory and prints the resulting address (the wire-form public key
// that doubles as the account's on-chain identity).
func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "generate a new account keypair",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()

			priv, err := core.GenerateKeyPair()
			if err != nil {
				return fmt.Errorf("keygen: %w", err)
			}

			privDER, err := x509.MarshalECPrivateKey(priv)
			if err != nil {
				return fmt.Errorf("keygen: marshal private key: %w", err)
			}
			privPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: privDER})

			pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
			if err != nil {
				return fmt.Errorf("keygen: marshal public key: %w", err)
			}
			pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

			if err := os.MkdirAll(cfg.KeyDir, 0o755); err != nil {
				return fmt.Errorf("keygen: mkdir %s: %w", cfg.KeyDir, err)
			}
			keyPath := filepath.Join(cfg.KeyDir, "private_key.pem")
			if err := os.WriteFile(keyPath, privPEM, 0o600); err != nil {
				return fmt.Errorf("keygen: write %s: %w", keyPath, err)
			}
			pubPath := filepath.Join(cfg.KeyDir, "public_key.pem")
			if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
				return fmt.Errorf("keygen: write %s: %w", pubPath, err)
			}

			address, err := core.AddressFromPublicKey(&priv.PublicKey)
			if err != nil {
				return fmt.Errorf("keygen: derive address: %w", err)
			}

			log.WithFields(logrus.Fields{"keyFile": keyPath, "pubFile": pubPath}).Info("keypair written")
			fmt.Println(address)
			return nil
		},
	}
}
