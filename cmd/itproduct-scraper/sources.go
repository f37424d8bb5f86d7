package main

import (
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/source"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List configured sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		registry, err := source.NewRegistryFromConfig(log, cfg, &http.Client{})
		if err != nil {
			return fmt.Errorf("building sources: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tADAPTER\tENABLED")

		for _, info := range registry.List() {
			fmt.Fprintf(w, "%s\t%s\t%t\n", info.Name, info.Adapter, info.Enabled)
		}

		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}
