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
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "0.3.0"

var (
	cfgFile string
	verbose bool

	// log is the process-wide logger, configured before any subcommand
	// runs.
	log zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "booktranslate",
	Short: "Resumable long-document translator",
	Long: `Translates books and other long documents with LLM and machine
translation backends. Documents are split into chapter units and
overlapping fragments, translated concurrently under a global rate
limit, and reassembled in order. Every finished fragment is persisted,
so an interrupted run picks up where it stopped.

Supported services: OpenAI-compatible APIs, Ollama, Google Cloud Translation.

Use "booktranslate translate --help" for translation options.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := zerolog.InfoLevel
		if verbose {
			level = zerolog.DebugLevel
		}
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			Level(level).
			With().Timestamp().Logger()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./booktranslate.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// initConfig loads .env, then the optional config file, then the
// environment. Precedence is flags over environment over config file.
func initConfig() {
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("booktranslate")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home + "/.config/booktranslate")
		}
	}

	viper.SetEnvPrefix("BOOKTRANSLATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	_ = viper.ReadInConfig()
}
