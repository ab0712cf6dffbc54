//go:build linux

package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/sliverarmory/nativehook"
	"github.com/sliverarmory/nativehook/internal/propspoof"
	"github.com/sliverarmory/nativehook/internal/resolver"
)

func addCommands(root *cobra.Command, opts *rootOptions) {
	root.AddCommand(newResolveCmd(), newProbeCmd(opts))
}

func newResolveCmd() *cobra.Command {
	var (
		libs        []string
		mainProgram bool
	)
	cmd := &cobra.Command{
		Use:   "resolve <symbol>",
		Short: "Report which candidate library exports a symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := resolver.Resolve(candidates(libs, mainProgram), args[0])
			if err != nil {
				return err
			}
			defer h.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", h.Symbol, h.Library)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&libs, "lib", nil, "Candidate library, tried in order (repeatable)")
	cmd.Flags().BoolVar(&mainProgram, "main", false, "Search the main program first")
	return cmd
}

func newProbeCmd(opts *rootOptions) *cobra.Command {
	var (
		libs        []string
		mainProgram bool
		symbol      string
		sets        []string
		gets        []string
	)
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Install a property override, read through the hooked getter, then remove it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseAssignments(sets)
			if err != nil {
				return err
			}
			keys := append([]string(nil), gets...)
			if len(keys) == 0 {
				for k := range values {
					keys = append(keys, k)
				}
				sort.Strings(keys)
			}
			search := candidates(libs, mainProgram)

			h, err := resolver.Resolve(search, symbol)
			if err != nil {
				return err
			}
			defer h.Close()

			bridge := nativehook.New(nativehook.Options{
				Logger:            opts.logger,
				PropertySymbol:    symbol,
				PropertyLibraries: search,
			})
			defer bridge.Close()
			defer bridge.ClearProperties(keysOf(values)...)

			if err := bridge.OverrideProperties(values); err != nil {
				return err
			}
			if err := bridge.InstallPropertyHook(); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, k := range keys {
				v, _ := propspoof.Read(h.Address, k)
				fmt.Fprintf(out, "hooked\t%s=%s\n", k, v)
			}
			if err := bridge.RemoveOverride(symbol); err != nil {
				return err
			}
			for _, k := range keys {
				v, _ := propspoof.Read(h.Address, k)
				fmt.Fprintf(out, "restored\t%s=%s\n", k, v)
			}
			stats := bridge.PropertyStats()
			fmt.Fprintf(out, "stats\trequests=%d spoofed=%d\n", stats.Requests, stats.Spoofed)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&libs, "lib", nil, "Candidate library, tried in order (repeatable)")
	cmd.Flags().BoolVar(&mainProgram, "main", false, "Search the main program first")
	cmd.Flags().StringVar(&symbol, "symbol", propspoof.Symbol, "Property getter to hook")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Override as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&gets, "get", nil, "Key to read (repeatable, default every --set key)")
	return cmd
}

func keysOf(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
