// Package main is the entrypoint for the archive bot. The serve command
// runs the chat transport, the command dispatcher and the admin HTTP
// surface; the remaining commands are offline operator tools.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/aelexs/archivebot/internal/auth"
	"github.com/aelexs/archivebot/internal/config"
	"github.com/aelexs/archivebot/internal/domain"
	"github.com/aelexs/archivebot/internal/pairing"
	"github.com/aelexs/archivebot/internal/server"
)

func main() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "archivebot",
		Short:         "WhatsApp archive bot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newResetCmd())
	cmd.AddCommand(newAdminTokenCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot and its admin HTTP surface",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return server.Run(cmd.Context(), server.Params{
				Name:  "archivebot",
				Setup: setup,
			}, nil)
		},
	}
}

// newResetCmd deletes the persisted device pairing and the QR artifact so
// the next serve starts a fresh pairing. Run it with the bot stopped.
func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Delete the device store and QR artifact (bot must be stopped)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Context())
			if err != nil {
				return err
			}
			if err := removeDeviceStore(cfg.WhatsApp.StorePath); err != nil {
				return err
			}
			artifact := pairing.NewArtifact(cfg.QR.Dir, cfg.QR.Freshness, domain.RealClock{})
			if err := artifact.Clear(); err != nil {
				return fmt.Errorf("remove qr artifact: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "device store and QR artifact removed; the next start will pair again")
			return nil
		},
	}
}

// removeDeviceStore deletes the sqlite database and its journal files.
func removeDeviceStore(path string) error {
	var errs []error
	for _, name := range []string{path, path + "-wal", path + "-shm", path + "-journal"} {
		if err := os.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("remove device store: %w", err)
	}
	return nil
}

func newAdminTokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "admin-token",
		Short: "Mint a bearer token for the /admin endpoints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(ctx)
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.Admin.TokenTTL
			}

			loader, err := newSecretsLoader(ctx, cfg)
			if err != nil {
				return err
			}
			secret, err := resolveSecret(ctx, cfg, loader)
			if err != nil {
				return err
			}
			res, err := auth.NewMinter(secret, domain.RealClock{}).Mint(subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", res.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "Operator identity recorded in the token (e.g. an email)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default admin.tokenttl)")
	_ = cmd.MarkFlagRequired("subject")

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), server.Version)
		},
	}
}
