package main

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/amoylab/oauthd/internal/auth/client"
	"github.com/amoylab/oauthd/internal/auth/session"
	"github.com/amoylab/oauthd/pkg/utils"
)

var (
	signalRunning bool
	extendBy      time.Duration
	revokeClient  string
	sessionEmail  string

	cleanupCmd = &cobra.Command{
		Use:   "cleanup",
		Short: "Remove expired tokens and authorization codes",
		Long:  `Runs one cleanup pass against the configured store, or asks a running server to do so with --signal`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if signalRunning {
				cfg, _, err := load()
				if err != nil {
					return err
				}
				path := resolvePIDFile(cfg)
				if err := sendSignal(path, syscall.SIGUSR1); err != nil {
					return fmt.Errorf("failed to signal oauthd: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleanup requested via %s\n", path)
				return nil
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.scheduler.RunOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d tokens and %d codes\n", res.TokensDeleted, res.CodesDeleted)
				return nil
			})
		},
	}

	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Administer issued access tokens",
	}

	tokenExtendCmd = &cobra.Command{
		Use:   "extend <access-token>",
		Short: "Push back the expiry of a live token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				tok, err := a.tokens.ExtendToken(ctx, args[0], extendBy)
				if err != nil {
					return err
				}
				if tok == nil {
					return errors.New("token not found or already expired")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "token now expires at %s\n", tok.ExpiresAt.Format(time.RFC3339))
				return nil
			})
		},
	}

	tokenRevokeUserCmd = &cobra.Command{
		Use:   "revoke-user <user-id>",
		Short: "Revoke every token of a user, optionally for one client only",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				var (
					n   int
					err error
				)
				if revokeClient != "" {
					n, err = a.tokens.RevokeUserClientTokens(ctx, args[0], revokeClient)
				} else {
					n, err = a.tokens.RevokeUserTokens(ctx, args[0])
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revoked %d tokens\n", n)
				return nil
			})
		},
	}

	tokenRevokeClientCmd = &cobra.Command{
		Use:   "revoke-client <client-id>",
		Short: "Revoke every token issued to a client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				n, err := a.tokens.RevokeClientTokens(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revoked %d tokens\n", n)
				return nil
			})
		},
	}

	sessionCmd = &cobra.Command{
		Use:   "session",
		Short: "End-user session helpers",
	}

	sessionIssueCmd = &cobra.Command{
		Use:   "issue <user-id>",
		Short: "Mint a session token for local testing of the authorize endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := load()
			if err != nil {
				return err
			}
			if cfg.Session.SecretKey == "" {
				return errors.New("session.secret_key must be configured to mint sessions")
			}
			svc, err := session.NewService(session.Config{
				SecretKey: cfg.Session.SecretKey,
				Issuer:    cfg.Server.Issuer,
				Duration:  cfg.Session.Duration,
			})
			if err != nil {
				return err
			}
			tok, err := svc.Issue(args[0], sessionEmail)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	clientCmd = &cobra.Command{
		Use:   "client",
		Short: "Client registration helpers",
	}

	clientHashCmd = &cobra.Command{
		Use:   "hash-secret <secret>",
		Short: "Print the bcrypt hash to use as secret_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := client.HashSecret(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
)

// sendSignal is swapped in tests
var sendSignal = utils.SendSignalToPIDFile

func init() {
	cleanupCmd.Flags().BoolVar(&signalRunning, "signal", false, "signal the running server instead of cleaning up in this process")
	tokenExtendCmd.Flags().DurationVar(&extendBy, "by", time.Hour, "how long to extend the token")
	tokenRevokeUserCmd.Flags().StringVar(&revokeClient, "client", "", "only revoke tokens issued to this client")
	sessionIssueCmd.Flags().StringVar(&sessionEmail, "email", "", "email claim of the session")

	tokenCmd.AddCommand(tokenExtendCmd, tokenRevokeUserCmd, tokenRevokeClientCmd)
	sessionCmd.AddCommand(sessionIssueCmd)
	clientCmd.AddCommand(clientHashCmd)
}

// withApp loads the configuration and runs fn against a wired app
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, lg, err := load()
	if err != nil {
		return err
	}
	defer lg.Sync()

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, lg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
