package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/barnybug/feedmux/pubsub"
)

func newAPIsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "apis",
		Short: "List the recognised API identifiers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, api := range pubsub.APIs() {
				fmt.Fprintln(cmd.OutOrStdout(), api)
			}
			return nil
		},
	}
}
