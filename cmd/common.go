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
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/diegogrosmann/BookTranslateAI/internal/gateway"
	"github.com/diegogrosmann/BookTranslateAI/internal/progress"
)

var knownModels = map[string][]string{
	"openai": {
		"gpt-4o", "gpt-4o-mini", "gpt-4.1", "gpt-4.1-mini", "o3-mini",
	},
	"ollama": {
		"llama3.2", "llama3.1:8b", "gemma2:27b", "mixtral:8x7b",
		"qwen2.5:14b", "mistral:7b",
	},
	"google": {
		"nmt",
	},
}

// buildGateway constructs the translation backend from CLI parameters.
// Credentials fall back to the environment (OPENAI_API_KEY,
// BOOKTRANSLATE_API_KEY) and the config file.
func buildGateway(ctx context.Context, service, model, apiKey, baseURL, credentials, targetLang string) (gateway.Gateway, error) {
	if apiKey == "" {
		apiKey = viper.GetString("api-key")
	}

	switch service {
	case "openai":
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("openai service requires an API key (--api-key or OPENAI_API_KEY)")
		}
		if model == "" {
			model = gateway.DefaultOpenAIModel
		}
		return gateway.NewOpenAI(apiKey, baseURL, model), nil
	case "ollama":
		if baseURL == "" {
			baseURL = gateway.DefaultOllamaURL
		}
		if model == "" {
			model = gateway.DefaultOllamaModel
		}
		return gateway.NewOllama(baseURL, model), nil
	case "google":
		if credentials == "" {
			credentials = viper.GetString("credentials")
		}
		return gateway.NewGoogle(ctx, credentials, targetLang)
	default:
		return nil, fmt.Errorf("unknown service: %s (openai, ollama, google)", service)
	}
}

// openStore opens the progress backend. An empty path places the store
// next to the input file.
func openStore(backend, path, inputFile string) (progress.Store, error) {
	if path == "" {
		base := ".booktranslate"
		if backend == "sqlite" {
			base += ".db"
		} else {
			base += ".json"
		}
		path = filepath.Join(filepath.Dir(inputFile), base)
	}

	switch backend {
	case "sqlite":
		return progress.NewSQLite(path)
	case "file":
		return progress.NewFile(path)
	default:
		return nil, fmt.Errorf("unknown progress backend: %s (sqlite, file)", backend)
	}
}
