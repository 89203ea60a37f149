// Package main is the entrypoint for the WABDesk desktop licensing agent.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/wabdesk/wabdesk/internal/agent"
	"github.com/wabdesk/wabdesk/internal/config"
	"github.com/wabdesk/wabdesk/internal/httpclient"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:   "wabdesk-agent",
		Short: "WABDesk licensing agent",
		Long: `WABDesk Agent activates this device against a WABDesk license server,
keeps an encrypted local copy of the license and sends periodic heartbeats.

Run 'wabdesk-agent config set-server <url>' and then 'wabdesk-agent activate'.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	newLogger := func() zerolog.Logger {
		level := zerolog.WarnLevel
		if verbose {
			level = zerolog.DebugLevel
		}
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			Level(level).
			With().
			Timestamp().
			Logger()
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newConfigCmd(),
		newFingerprintCmd(),
		newActivateCmd(newLogger),
		newStatusCmd(newLogger),
		newStartCmd(newLogger),
		newDeactivateCmd(newLogger),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("WABDesk Agent %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Built:      %s\n", BuildDate)
			fmt.Printf("  Go version: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage agent configuration",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show current configuration",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.LoadDefault()
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				cfg.ApplyDefaults()

				configPath, _ := config.DefaultConfigPath()
				fmt.Printf("Config file:        %s\n", configPath)
				if !cfg.IsConfigured() {
					fmt.Println("Agent is not configured. Run 'wabdesk-agent config set-server <url>'.")
					return nil
				}
				fmt.Printf("Server URL:         %s\n", cfg.ServerURL)
				fmt.Printf("Device label:       %s\n", cfg.DeviceLabel)
				fmt.Printf("Heartbeat interval: %s\n", cfg.HeartbeatInterval)
				fmt.Printf("Grace window:       %s\n", cfg.GraceWindow)
				fmt.Printf("Proxy:              %s\n", httpclient.ProxyInfo(&cfg.Proxy))
				return nil
			},
		},
		&cobra.Command{
			Use:   "set-server <url>",
			Short: "Set the license server URL",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				parsed, err := url.Parse(args[0])
				if err != nil {
					return fmt.Errorf("invalid server URL: %w", err)
				}
				if parsed.Scheme != "http" && parsed.Scheme != "https" {
					return fmt.Errorf("server URL must use http or https scheme")
				}

				cfg, err := config.LoadDefault()
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				cfg.ServerURL = strings.TrimSuffix(args[0], "/")
				if err := cfg.SaveDefault(); err != nil {
					return fmt.Errorf("save config: %w", err)
				}

				fmt.Printf("Server URL set to: %s\n", cfg.ServerURL)
				return nil
			},
		},
	)

	return cmd
}

func newFingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint",
		Short: "Print this device's identifier",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := agent.NewFingerprinter().DeviceID(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
}

// loadAgent builds an Agent from the on-disk configuration.
func loadAgent(logger zerolog.Logger) (*agent.Agent, *config.AgentConfig, error) {
	cfg, err := config.LoadDefault()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("agent not configured: %w", err)
	}
	cfg.ApplyDefaults()

	httpClient, err := httpclient.New(httpclient.Options{Proxy: &cfg.Proxy})
	if err != nil {
		return nil, nil, err
	}

	a, err := agent.New(agent.Options{
		Transport: agent.NewClient(cfg.ServerURL, httpClient),
		Policy: agent.Policy{
			HeartbeatInterval: cfg.HeartbeatInterval,
			GraceWindow:       cfg.GraceWindow,
		},
		AppVersion: Version,
		Logger:     logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return a, cfg, nil
}

func newActivateCmd(newLogger func() zerolog.Logger) *cobra.Command {
	var token, label string

	cmd := &cobra.Command{
		Use:   "activate <license-key>",
		Short: "Activate this device with a license key",
		Long: `Activate this device with a license key.

An organization API token is required. If --token is not given you will be
prompted for it. The token is stored only in the encrypted license cache.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cfg, err := loadAgent(newLogger())
			if err != nil {
				return err
			}

			if token == "" {
				fmt.Print("Enter API token: ")
				line, err := bufio.NewReader(os.Stdin).ReadString('\n')
				if err != nil {
					return fmt.Errorf("read API token: %w", err)
				}
				token = strings.TrimSpace(line)
			}
			if token == "" {
				return errors.New("API token cannot be empty")
			}
			if label == "" {
				label = cfg.DeviceLabel
			}
			if label == "" {
				label, _ = os.Hostname()
			}

			rec, err := a.Activate(cmd.Context(), token, args[0], label)
			if err != nil {
				var actErr *agent.ActivationError
				if errors.As(err, &actErr) {
					fmt.Printf("Activation refused: %s\n", actErr.Reason)
					if actErr.Message != "" {
						fmt.Println(actErr.Message)
					}
				}
				return err
			}

			fmt.Println("Device activated.")
			printRecord(rec)
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "Organization API token (wab_...)")
	cmd.Flags().StringVar(&label, "label", "", "Human-readable device label")

	return cmd
}

func newStatusCmd(newLogger func() zerolog.Logger) *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the local license state",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := loadAgent(newLogger())
			if err != nil {
				return err
			}

			if check {
				res, err := a.ValidateOnStartup(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Printf("Startup check: %s\n", describe(res.Phase, res.Reason))
				if res.NeedsActivation {
					fmt.Println("Run 'wabdesk-agent activate <license-key>' to activate this device.")
				}
			}

			rec, state, err := a.Status(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("State: %s\n", describe(state.Phase, state.Reason))
			if rec != nil {
				printRecord(rec)
			}
			if !state.Usable() && state.Reason != agent.ReasonNone {
				fmt.Println()
				fmt.Println(agent.LockMessage(state.Reason))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "Run the startup validation, contacting the server if required")

	return cmd
}

func newStartCmd(newLogger func() zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Validate the license and keep heartbeating until stopped",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			a, cfg, err := loadAgent(logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			res, err := a.ValidateOnStartup(ctx)
			if err != nil {
				return err
			}
			if !res.Valid {
				fmt.Println(agent.LockMessage(res.Reason))
				return fmt.Errorf("license not usable: %s", describe(res.Phase, res.Reason))
			}

			fmt.Printf("WABDesk Agent %s running (%s).\n", Version, describe(res.Phase, res.Reason))
			fmt.Printf("Heartbeat interval: %s\n", cfg.HeartbeatInterval)

			sched, err := a.StartHeartbeat(ctx, agent.SchedulerConfig{
				InitialDelay: cfg.InitialDelay,
				Interval:     cfg.HeartbeatInterval,
			}, func(r agent.BeatResult) {
				switch {
				case r.Valid:
					logger.Info().Msg("heartbeat accepted")
				case r.Locked:
					fmt.Println(agent.LockMessage(r.Reason))
					logger.Error().Str("reason", string(r.Reason)).Msg("license locked")
				default:
					logger.Warn().Str("reason", string(r.Reason)).Msg("heartbeat failed, running in grace period")
				}
			})
			if err != nil {
				return err
			}

			<-ctx.Done()
			sched.Stop()
			fmt.Println("Agent stopped.")
			return nil
		},
	}
}

func newDeactivateCmd(newLogger func() zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate",
		Short: "Release this device's seat and remove the local license",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := loadAgent(newLogger())
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			released, err := a.Deactivate(ctx)
			if errors.Is(err, agent.ErrNoCache) {
				fmt.Println("This device is not activated.")
				return nil
			}
			if err != nil {
				return err
			}

			if released {
				fmt.Println("Seat released and local license removed.")
			} else {
				fmt.Println("Server had no active seat for this device. Local license removed.")
			}
			return nil
		},
	}
}

func describe(phase agent.Phase, reason agent.Reason) string {
	if reason == agent.ReasonNone {
		return string(phase)
	}
	return fmt.Sprintf("%s (%s)", phase, reason)
}

func printRecord(rec *agent.Record) {
	fmt.Printf("  License:        %s\n", rec.LicenseID)
	fmt.Printf("  Plan:           %s\n", rec.PlanCode)
	if rec.ExpiresAt != nil {
		fmt.Printf("  Expires:        %s\n", rec.ExpiresAt.Local().Format(time.RFC1123))
	} else {
		fmt.Printf("  Expires:        never\n")
	}
	fmt.Printf("  Last heartbeat: %s\n", rec.LastHeartbeat.Local().Format(time.RFC1123))
}
