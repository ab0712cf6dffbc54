package main

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sliverarmory/nativehook/internal/logging"
)

type rootOptions struct {
	logLevel  string
	logFormat string
	logger    *logrus.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "nativehook",
		Short:        "Inspect and exercise native function hooks in this process",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			format, err := logging.ParseFormat(opts.logFormat)
			if err != nil {
				return err
			}
			opts.logger, err = logging.New(logging.Options{
				Level:  opts.logLevel,
				Format: format,
				Output: cmd.ErrOrStderr(),
			})
			return err
		},
	}
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (default $"+logging.EnvVar+" or warn)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "Log format: text or json")

	addCommands(cmd, opts)
	return cmd
}

// candidates turns --lib values and --main into a search list.
func candidates(libs []string, mainProgram bool) []string {
	out := make([]string, 0, len(libs)+1)
	if mainProgram {
		out = append(out, "")
	}
	for _, lib := range libs {
		if lib = strings.TrimSpace(lib); lib != "" {
			out = append(out, lib)
		}
	}
	return out
}

func parseAssignments(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q (want key=value)", pair)
		}
		out[key] = value
	}
	return out, nil
}
