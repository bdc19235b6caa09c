package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var stateDocs []string

var stateCmd = &cobra.Command{
	Use:   "state <type> <id>",
	Short: "Inspect a record's derived lifecycle state",
	Long: `State loads the documents given with --doc into a fresh store, then
prints the derived lifecycle snapshot of the record identified by type and id.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		typ, id := args[0], args[1]

		st, err := buildStore()
		if err != nil {
			fatal("Error building store", err)
		}
		defer st.Close()

		for _, path := range stateDocs {
			if _, err := pushFile(st, path); err != nil {
				fatal(fmt.Sprintf("Error pushing %s", path), err)
			}
		}

		key := st.Key(typ, id)
		snapshot := st.Lifecycle(key)

		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(snapshot); err != nil {
			fatal("Error encoding JSON", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(stateCmd)
	stateCmd.Flags().StringArrayVar(&stateDocs, "doc", nil, "JSON:API document file to load (repeatable)")
}
