// Copyright 2024 The Cipherbox Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Vaultctl is a command-line client for a cipherbox vault: it exercises
// the whole client core end to end — key generation, vault
// initialization, upload, download, folder management, sharing, and
// sync — against a configured relay.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"cipherbox.dev/config"
	"cipherbox.dev/crypto"
	"cipherbox.dev/errors"
	"cipherbox.dev/log"
	"cipherbox.dev/relay"
	"cipherbox.dev/session"
	"cipherbox.dev/vault"
)

var (
	flagConfig  string
	flagKeyFile string
)

func main() {
	root := &cobra.Command{
		Use:           "vaultctl",
		Short:         "Client for a zero-knowledge encrypted file vault",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "config", "configuration file (absolute, or relative to $HOME/.cipherbox)")
	root.PersistentFlags().StringVar(&flagKeyFile, "key-file", defaultKeyFile(), "file holding the hex-encoded user private key")

	root.AddCommand(
		keygenCmd(),
		initCmd(),
		lsCmd(),
		mkdirCmd(),
		uploadCmd(),
		downloadCmd(),
		rmCmd(),
		shareCmd(),
		syncCmd(),
	)
	log.SetLevel("error")
	log.UseZerolog(os.Stderr)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "vaultctl: %v\n", err)
		os.Exit(1)
	}
}

func defaultKeyFile() string {
	home, err := config.Homedir()
	if err != nil {
		return "cipherbox.key"
	}
	return filepath.Join(home, ".cipherbox", "key")
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a user keypair and store the private key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(flagKeyFile); err == nil {
				return errors.Errorf("refusing to overwrite existing key file %s", flagKeyFile)
			}
			priv, pub, err := crypto.Secp256k1GenerateKeypair()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(flagKeyFile), 0700); err != nil {
				return err
			}
			if err := os.WriteFile(flagKeyFile, []byte(hex.EncodeToString(priv)+"\n"), 0600); err != nil {
				return err
			}
			fmt.Printf("public key: %s\n", hex.EncodeToString(pub))
			return nil
		},
	}
}

// open loads configuration and the user key and returns a live session.
// The caller must Logout.
func open(ctx context.Context) (*session.Session, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if cfg.RelayURL == "" {
		return nil, errors.Str("no relayurl configured")
	}
	keyHex, err := os.ReadFile(flagKeyFile)
	if err != nil {
		return nil, errors.Errorf("reading key file (run vaultctl keygen first): %v", err)
	}
	priv, err := hex.DecodeString(strings.TrimSpace(string(keyHex)))
	if err != nil {
		return nil, errors.Errorf("malformed key file: %v", err)
	}
	pub, err := crypto.Secp256k1DerivePublic(priv)
	if err != nil {
		return nil, err
	}
	s := session.New(cfg, relay.New(cfg.RelayURL, cfg.RequestTimeout), vault.PublicKey(hex.EncodeToString(pub)), priv)
	return s, nil
}

// openLoaded is open plus a vault load and initial sync.
func openLoaded(ctx context.Context) (*session.Session, error) {
	s, err := open(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.Load(ctx); err != nil {
		s.Logout()
		return nil, err
	}
	return s, nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Provision a new vault for this user",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := open(ctx)
			if err != nil {
				return err
			}
			defer s.Logout()
			if err := s.InitializeVault(ctx); err != nil {
				return err
			}
			fmt.Println("vault initialized")
			return nil
		},
	}
}

func lsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [path]",
		Short: "List a folder",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openLoaded(ctx)
			if err != nil {
				return err
			}
			defer s.Logout()

			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			id, isFolder, err := s.ResolvePath(path)
			if err != nil {
				return err
			}
			if !isFolder {
				fmt.Println(filepath.Base(path))
				return nil
			}
			node, err := s.Tree().Folder(id)
			if err != nil {
				return err
			}
			for _, c := range node.Children {
				if c.IsFolder {
					fmt.Printf("%s/\n", c.Name)
				} else {
					fmt.Println(c.Name)
				}
			}
			return nil
		},
	}
}

func mkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openLoaded(ctx)
			if err != nil {
				return err
			}
			defer s.Logout()

			dir, name := splitPath(args[0])
			parentID, isFolder, err := s.ResolvePath(dir)
			if err != nil {
				return err
			}
			if !isFolder {
				return errors.Errorf("%s is not a folder", dir)
			}
			_, err = s.CreateFolder(ctx, parentID, name)
			return err
		},
	}
}

func uploadCmd() *cobra.Command {
	var mimeType string
	cmd := &cobra.Command{
		Use:   "upload <local-file> <vault-folder>",
		Short: "Encrypt and upload a local file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openLoaded(ctx)
			if err != nil {
				return err
			}
			defer s.Logout()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			parentID, isFolder, err := s.ResolvePath(args[1])
			if err != nil {
				return err
			}
			if !isFolder {
				return errors.Errorf("%s is not a folder", args[1])
			}
			id, err := s.Upload(ctx, parentID, filepath.Base(args[0]), mimeType, data)
			if err != nil {
				return err
			}
			fmt.Printf("uploaded %s (%d bytes) as %s\n", filepath.Base(args[0]), len(data), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&mimeType, "mime", "application/octet-stream", "MIME type (audio/* and video/* stream with CTR)")
	return cmd
}

func downloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download <vault-path> <local-file>",
		Short: "Download and decrypt a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openLoaded(ctx)
			if err != nil {
				return err
			}
			defer s.Logout()

			id, isFolder, err := s.ResolvePath(args[0])
			if err != nil {
				return err
			}
			if isFolder {
				return errors.Errorf("%s is a folder", args[0])
			}
			pt, err := s.Download(ctx, id)
			if err != nil {
				return err
			}
			defer pt.Release()
			return os.WriteFile(args[1], pt.Bytes(), 0600)
		},
	}
}

func rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <vault-path>",
		Short: "Remove a file or folder (and unpin its content)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openLoaded(ctx)
			if err != nil {
				return err
			}
			defer s.Logout()

			dir, _ := splitPath(args[0])
			parentID, _, err := s.ResolvePath(dir)
			if err != nil {
				return err
			}
			id, _, err := s.ResolvePath(args[0])
			if err != nil {
				return err
			}
			return s.Remove(ctx, parentID, []vault.ItemID{id})
		},
	}
}

func shareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "share <vault-path> <recipient-public-key>",
		Short: "Share an item subtree with a recipient",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openLoaded(ctx)
			if err != nil {
				return err
			}
			defer s.Logout()

			id, _, err := s.ResolvePath(args[0])
			if err != nil {
				return err
			}
			sh, err := s.ShareItem(ctx, id, vault.PublicKey(args[1]))
			if err != nil {
				return err
			}
			fmt.Printf("share %s: %d descendant keys re-wrapped\n", sh.ShareID, len(sh.ChildKeys))
			return nil
		},
	}
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Poll the relay once and print the refreshed root listing",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openLoaded(ctx)
			if err != nil {
				return err
			}
			defer s.Logout()
			if err := s.Sync(ctx); err != nil {
				return err
			}
			node, err := s.Tree().Folder(s.Tree().RootID())
			if err != nil {
				return err
			}
			fmt.Printf("root at sequence %d, %d entries\n", node.SequenceNumber, len(node.Children))
			return nil
		},
	}
}

// splitPath separates a vault path into its parent and leaf name.
func splitPath(path string) (dir, name string) {
	path = strings.Trim(path, "/")
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}
