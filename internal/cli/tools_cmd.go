package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect and call the assistant's tools",
	}

	cmd.AddCommand(newToolsListCmd())
	cmd.AddCommand(newToolsCallCmd())
	return cmd
}

func newToolsListCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the tools declared to the model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(false)
			if err != nil {
				return err
			}
			reg, err := a.openTools()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			defs := reg.Definitions()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(defs)
			}
			for _, d := range defs {
				fmt.Fprintf(out, "  %-24s %s\n", d.Name, d.Description)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print full definitions with parameter schemas")
	return cmd
}

func newToolsCallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call <name> [json-args]",
		Short: "Dispatch one tool call and print its payload",
		Example: `  kassa tools call search_products '{"search": "melk", "size": 3}'
  kassa tools call search_physical_stores '{"search": "Oslo", "group": "KIWI"}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(false)
			if err != nil {
				return err
			}
			reg, err := a.openTools()
			if err != nil {
				return err
			}

			var raw string
			if len(args) > 1 {
				raw = args[1]
			}
			return printJSON(cmd.OutOrStdout(), reg.Execute(cmd.Context(), args[0], raw))
		},
	}
}

// printJSON writes payload indented, or verbatim when it does not parse.
func printJSON(out io.Writer, payload []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, payload, "", "  "); err != nil {
		buf.Reset()
		buf.Write(payload)
	}
	buf.WriteByte('\n')
	_, err := out.Write(buf.Bytes())
	return err
}
