// Package cli implements the sitelayout command line: one subcommand per
// pipeline stage plus run, which chains them.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/FranksOps/sitelayout/internal/dedup"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(newApp())
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "sitelayout",
		Short:         "Capture websites and keep one screenshot per distinct layout",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			if err := bindFlags(a, cmd.Flags()); err != nil {
				return err
			}
			return a.setup(cmd.Context(), cmd.Name())
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is ./sitelayout.yaml or ./config/sitelayout.yaml)")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.Bool("pretty", false, "human readable console logs")
	flags.String("db-driver", "sqlite", "database driver: sqlite or postgres")
	flags.String("db-dsn", "", "database DSN")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address")
	configKeys(flags, map[string]string{
		"log.level":       "log-level",
		"log.pretty":      "pretty",
		"database.driver": "db-driver",
		"database.dsn":    "db-dsn",
		"metrics.addr":    "metrics-addr",
	})

	root.AddCommand(
		migrateCommand(a),
		importCommand(a),
		captureCommand(a),
		greyscaleCommand(a),
		dedupCommand(a),
		copyCommand(a),
		dimensionsCommand(a),
		verifyCommand(a),
		runCommand(a),
	)
	return root
}

const configKeyAnnotation = "sitelayout_config_key"

// configKeys marks flags as overrides of config keys. Binding happens once
// the command to run is known, so commands sharing a key do not steal each
// other's flag.
func configKeys(flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := flags.SetAnnotation(name, configKeyAnnotation, []string{key}); err != nil {
			panic(fmt.Sprintf("annotate flag %s: %v", name, err))
		}
	}
}

// bindFlags binds the annotated flags of the running command so a flag set
// on the command line wins over the file and the environment.
func bindFlags(a *app, flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		keys := f.Annotations[configKeyAnnotation]
		if len(keys) == 0 || err != nil {
			return
		}
		err = a.v.BindPFlag(keys[0], f)
	})
	if err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}
	return nil
}

// Execute runs the command line and returns the process exit code: 0 on
// success, 1 on any error including an incomplete deduplication.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := newApp()
	root := newRootCommand(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err != nil && a.log != nil {
		a.log.Error("run failed", zap.Error(err))
	}
	a.close()

	if err == nil {
		return 0
	}
	if errors.Is(err, dedup.ErrIncomplete) {
		fmt.Fprintf(stderr, "sitelayout: %v (outputs were written, see %s)\n", err, a.logPath)
		return 1
	}
	fmt.Fprintf(stderr, "sitelayout: %v\n", err)
	return 1
}
