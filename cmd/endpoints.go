package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"emoney-portal/internal/platform"
)

func newEndpointsCmd() *cobra.Command {
	var tenant string

	command := &cobra.Command{
		Use:   "endpoints",
		Short: "Prints the list screens and the platform paths behind them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printCatalog(cmd.OutOrStdout(), tenant)
		},
	}
	command.Flags().StringVar(&tenant, "tenant", platform.TenantPrincipal, "tenant to list screens for (principal or co)")
	return command
}

func printCatalog(w io.Writer, tenant string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPATH\tMUTABLE\tEXPORT\tFILTERS")
	for _, r := range platform.Catalog(tenant) {
		export := "-"
		if r.Export != "" {
			export = r.Export
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n", r.Name, r.Path, r.Mutable, export, strings.Join(r.Filters, ","))
	}
	return tw.Flush()
}
