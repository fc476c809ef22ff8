package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/wolfman30/care-coordinator-ai/cmd/mainconfig"
	"github.com/wolfman30/care-coordinator-ai/internal/app/bootstrap"
	appconfig "github.com/wolfman30/care-coordinator-ai/internal/config"
	"github.com/wolfman30/care-coordinator-ai/internal/terminal"
	"github.com/wolfman30/care-coordinator-ai/pkg/logging"
)

type options struct {
	offline   bool
	patientID string
	logLevel  string
}

func main() {
	_ = godotenv.Load()
	if err := newRootCommand(os.Stdin, os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "terminal-chat",
		Short:         "Chat with the care coordinator assistant from a terminal",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, in, out, errOut)
		},
	}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.Flags().BoolVar(&opts.offline, "offline", false, "use the built-in sample patient instead of PATIENT_API_URL")
	cmd.Flags().StringVar(&opts.patientID, "patient", "1", "patient ID to load at startup (empty to skip)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "warn", "log level for diagnostics written to stderr")
	return cmd
}

func run(ctx context.Context, opts *options, in io.Reader, out, errOut io.Writer) error {
	cfg := appconfig.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := logging.NewWithWriter(opts.logLevel, "text", errOut)

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	services, err := bootstrap.BuildServices(ctx, cfg, bootstrap.ServicesOptions{
		AWS:    awsCfg,
		Source: bootstrap.BuildPatientSource(cfg, opts.offline),
	}, logger)
	if err != nil {
		return err
	}
	defer services.Close()

	reference, err := bootstrap.BuildReferenceSource(cfg, awsCfg)
	if err != nil {
		return err
	}

	session := terminal.NewSession(terminal.Config{
		In:            in,
		Out:           out,
		Coordinator:   services.Coordinator,
		Resolver:      services.Resolver,
		Reference:     reference,
		ProviderReady: cfg.ProviderConfigured(),
		ProviderName:  cfg.LLMProvider,
	})
	if id := strings.TrimSpace(opts.patientID); id != "" {
		session.Load(ctx, id)
	}
	return session.Run(ctx)
}
