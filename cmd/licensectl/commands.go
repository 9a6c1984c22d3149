package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"kaiden.app/licensing/internal/config"
	"kaiden.app/licensing/internal/entitlement"
	"kaiden.app/licensing/internal/kvstore"
	"kaiden.app/licensing/internal/secret"
	"kaiden.app/licensing/internal/securestore"
	"kaiden.app/licensing/internal/tier"
	"kaiden.app/licensing/internal/token"
	"kaiden.app/licensing/internal/version"
)

var errNoLicenseSecret = errors.New("LICENSE_SECRET is not set")

type app struct {
	out      io.Writer
	now      func() time.Time
	envFiles []string
	cfg      *config.ClientConfig
}

func newRootCmd(out io.Writer) *cobra.Command {
	return (&app{out: out, now: time.Now}).rootCmd()
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "licensectl",
		Short:         "Manage Kaiden Pro license tokens and the local entitlement",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetOut(a.out)
	root.SetErr(a.out)
	root.PersistentFlags().StringSliceVar(&a.envFiles, "env-file", []string{".env"}, "env files to load before reading configuration")

	root.AddCommand(
		a.issueCmd(),
		a.verifyCmd(),
		a.redeemCmd(),
		a.statusCmd(),
		a.clearCmd(),
		a.accessCmd(),
		a.featuresCmd(),
		a.tiersCmd(),
		a.versionCmd(),
	)
	return root
}

func (a *app) config() (*config.ClientConfig, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}
	if err := config.LoadEnvFiles(a.envFiles...); err != nil {
		return nil, err
	}
	cfg, err := config.NewClient()
	if err != nil {
		return nil, err
	}
	a.cfg = cfg
	return cfg, nil
}

func (a *app) licenseSecret() (string, error) {
	cfg, err := a.config()
	if err != nil {
		return "", err
	}
	if cfg.LicenseSecret == "" {
		return "", errNoLicenseSecret
	}
	return cfg.LicenseSecret, nil
}

// withManager opens the configured stores, runs fn and closes them again.
func (a *app) withManager(fn func(*entitlement.Manager) error) error {
	cfg, err := a.config()
	if err != nil {
		return err
	}

	kv, err := kvstore.Open(cfg.StoreOptions())
	if err != nil {
		return fmt.Errorf("open entitlement store: %w", err)
	}
	defer kv.Close()

	var store *securestore.Store
	if cfg.PlaintextStore {
		store = securestore.NewPlaintext(kv)
	} else {
		session, err := kvstore.Open(cfg.SessionOptions())
		if err != nil {
			return fmt.Errorf("open session store: %w", err)
		}
		defer session.Close()

		provider, err := secret.Resolve(cfg.EntitlementSecret, session, cfg.RequireEntitlementSecret)
		if err != nil {
			return err
		}
		store = securestore.New(kv, provider)
	}

	return fn(entitlement.NewManager(store, entitlement.WithClock(a.now)))
}

func (a *app) issueCmd() *cobra.Command {
	var (
		days    int
		tierArg string
	)
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Mint a signed Pro token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := a.licenseSecret()
			if err != nil {
				return err
			}

			var claim string
			if tierArg != "" {
				t, ok := tier.Parse(tierArg)
				if !ok {
					return fmt.Errorf("unknown tier %q", tierArg)
				}
				claim = string(t)
			}

			tok, err := token.Codec{Now: a.now}.Issue(key, token.IssueOptions{ValidDays: days, Tier: claim})
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, tok)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 365, "days until the token expires")
	cmd.Flags().StringVar(&tierArg, "tier", "", "optional tier claim")
	return cmd
}

func (a *app) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <token>",
		Short: "Check a token without redeeming it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := a.licenseSecret()
			if err != nil {
				return err
			}

			res := token.Codec{Now: a.now}.Verify(key, args[0])
			if !res.OK {
				fmt.Fprintf(a.out, "invalid: %s (%s)\n", res.Reason, res.Reason.Kind())
				return res.Err()
			}
			fmt.Fprintln(a.out, "valid")
			printClaims(a.out, res.Payload)
			return nil
		},
	}
}

func (a *app) redeemCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "redeem <token>",
		Short: "Verify a token and unlock Pro on this machine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := a.licenseSecret()
			if err != nil {
				return err
			}

			return a.withManager(func(m *entitlement.Manager) error {
				res, err := m.Redeem(cmd.Context(), key, args[0])
				if err != nil {
					if !res.OK {
						return fmt.Errorf("token rejected (%s): %w", res.Reason, err)
					}
					return err
				}
				fmt.Fprintln(a.out, "Pro unlocked")
				printClaims(a.out, res.Payload)
				return nil
			})
		},
	}
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored entitlement",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(func(m *entitlement.Manager) error {
				if !m.IsUnlocked(cmd.Context()) {
					fmt.Fprintln(a.out, "Pro: locked")
					return nil
				}
				fmt.Fprintln(a.out, "Pro: unlocked")
				fmt.Fprintf(a.out, "tier: %s\n", m.Tier(cmd.Context()))
				if meta := m.GetMeta(cmd.Context()); meta != nil {
					fmt.Fprintf(a.out, "expires: %s\n", meta.ExpiresAt)
				}
				return nil
			})
		},
	}
}

func (a *app) clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove the stored entitlement",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(func(m *entitlement.Manager) error {
				if err := m.Clear(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(a.out, "Entitlement cleared")
				return nil
			})
		},
	}
}

func (a *app) accessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "access <tier>",
		Short: "Report whether the stored entitlement reaches a tier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			required, ok := tier.Parse(args[0])
			if !ok {
				return fmt.Errorf("unknown tier %q", args[0])
			}
			return a.withManager(func(m *entitlement.Manager) error {
				verdict := "denied"
				if m.CanAccess(cmd.Context(), required) {
					verdict = "granted"
				}
				fmt.Fprintf(a.out, "%s: %s\n", required, verdict)
				return nil
			})
		},
	}
}

func (a *app) featuresCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "features",
		Short: "List features and whether the stored entitlement unlocks them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(func(m *entitlement.Manager) error {
				for _, f := range tier.Features() {
					minimum, _ := tier.MinimumTier(f)
					mark := "-"
					if m.CanUse(cmd.Context(), f) {
						mark = "+"
					}
					fmt.Fprintf(a.out, "%s %-20s %s\n", mark, f, minimum)
				}
				return nil
			})
		},
	}
}

func (a *app) tiersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tiers",
		Short: "List tiers from lowest to highest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, t := range tier.Order {
				fmt.Fprintf(a.out, "%d %s\n", t.Rank(), t)
			}
			return nil
		},
	}
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the licensectl version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(a.out, version.Version)
		},
	}
}

func printClaims(w io.Writer, p *token.Payload) {
	fmt.Fprintf(w, "plan: %s\n", p.Plan)
	if p.Tier != "" {
		fmt.Fprintf(w, "tier: %s\n", p.Tier)
	}
	fmt.Fprintf(w, "expires: %s\n", p.ExpiresAt)
}
