package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var pushJSON bool

var pushCmd = &cobra.Command{
	Use:   "push [files...]",
	Short: "Load JSON:API documents into a store",
	Long: `Push parses each file as a JSON:API document, merges it into a fresh
store and prints the resolved record identities. With --json, each record's
lifecycle snapshot is printed instead.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		st, err := buildStore()
		if err != nil {
			fatal("Error building store", err)
		}
		defer st.Close()

		for _, path := range args {
			keys, err := pushFile(st, path)
			if err != nil {
				fatal(fmt.Sprintf("Error pushing %s", path), err)
			}

			for _, key := range keys {
				if !pushJSON {
					fmt.Println(key.String())
					continue
				}

				encoder := json.NewEncoder(os.Stdout)
				encoder.SetIndent("", "  ")
				if err := encoder.Encode(st.Lifecycle(key)); err != nil {
					fatal("Error encoding JSON", err)
				}
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(pushCmd)
	pushCmd.Flags().BoolVar(&pushJSON, "json", false, "Output lifecycle snapshots in JSON format")
}
