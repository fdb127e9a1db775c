package main

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show registry record counts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		counts, err := st.Counts(ctx)
		if err != nil {
			return err
		}

		if statusJSON {
			data, err := json.MarshalIndent(counts, "", "  ")
			if err != nil {
				return eris.Wrap(err, "marshal counts")
			}
			cmd.Println(string(data))
			return nil
		}

		cmd.Printf("records:       %d\n", counts.Total)
		cmd.Printf("classified:    %d\n", counts.Classified)
		cmd.Printf("public-facing: %d\n", counts.PublicFacing)
		cmd.Printf("with website:  %d\n", counts.WithWebsite)
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the registry schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return err
		}
		cmd.Println("schema up to date")
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output counts as JSON")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(migrateCmd)
}
