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
	"sort"

	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List known models per translation service",
	Long: `List commonly used model names for each supported service.
Any model the service itself accepts can be passed to --model; this
list is a starting point, not a restriction.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		services := make([]string, 0, len(knownModels))
		for name := range knownModels {
			services = append(services, name)
		}
		sort.Strings(services)

		for _, name := range services {
			fmt.Printf("%s:\n", name)
			for _, m := range knownModels[name] {
				fmt.Printf("  %s\n", m)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}
