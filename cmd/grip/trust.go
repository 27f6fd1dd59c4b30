package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTrustCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trust",
		Short: "Manage trusted directories for filesystem tools",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List trusted directories",
		RunE: func(cmd *cobra.Command, _ []string) error {
			stack, err := buildStack()
			if err != nil {
				return err
			}
			dirs := stack.Trust.TrustedDirectories()
			if len(dirs) == 0 {
				fmt.Println("No trusted directories (workspace is always trusted).")
				return nil
			}
			for _, dir := range dirs {
				fmt.Println(dir)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add [dir]",
		Short: "Trust a directory and its subtree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := buildStack()
			if err != nil {
				return err
			}
			stack.Trust.Trust(args[0])
			fmt.Println("Trusted:", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "revoke [dir]",
		Short: "Revoke trust for a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := buildStack()
			if err != nil {
				return err
			}
			if !stack.Trust.Revoke(args[0]) {
				return fmt.Errorf("%s was not trusted", args[0])
			}
			fmt.Println("Revoked:", args[0])
			return nil
		},
	})

	return cmd
}
