//go:build !linux

package main

import "github.com/spf13/cobra"

func addCommands(*cobra.Command, *rootOptions) {}
