package main

import (
	"encoding/json"
	"fmt"

	"github.com/go-go-golems/chatstate/pkg/conversation"
	"github.com/go-go-golems/chatstate/pkg/transport"
	"github.com/spf13/cobra"
)

func newSchemaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of transport requests, persisted records or built-in tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			listTools, _ := cmd.Flags().GetBool("tools")
			if listTools {
				registry, err := builtinTools()
				if err != nil {
					return err
				}
				b, err := json.MarshalIndent(registry.ListTools(), "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
				return err
			}
			record, _ := cmd.Flags().GetBool("record")
			if record {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), conversation.RecordSchema())
				return err
			}
			b, err := transport.RequestSchema()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return err
		},
	}
	cmd.Flags().Bool("record", false, "Print the persisted record schema instead")
	cmd.Flags().Bool("tools", false, "Print the definitions of the built-in tools instead")
	return cmd
}
