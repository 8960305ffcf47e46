/*
Copyright © 2025 Diego Grosmann <diego.grosmann@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List translation runs in a progress store",
	Long: `List the runs recorded in a progress store with their
fragment counts, most recent first. Interrupted runs show as "running"
and resume when the same translate command is executed again.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(storeBackend, storePath, ".")
		if err != nil {
			return err
		}
		defer store.Close()

		summaries, err := store.Summaries(cmd.Context())
		if err != nil {
			return err
		}
		if len(summaries) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "INPUT\tMODEL\tTARGET\tSTATUS\tUNITS\tDONE\tFAILED\tUPDATED")
		for _, s := range summaries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
				filepath.Base(s.Input), s.Model, s.TargetLang, s.Status,
				s.Units, s.DoneCount, s.FailedCount,
				s.UpdatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVar(&storeBackend, "progress-backend", "sqlite", "Progress store backend (sqlite, file)")
	statusCmd.Flags().StringVar(&storePath, "progress-path", "", "Progress store path (default: ./.booktranslate.db)")
}
