package xapi

import (
	"os"

	"github.com/Strob0t/LaunchLoop/internal/port/metricsource"
)

func init() {
	metricsource.Register(platformName, func(cfg map[string]string) (metricsource.Source, error) {
		token := cfg["bearer_token"]
		if token == "" {
			token = os.Getenv("LAUNCHLOOP_X_BEARER_TOKEN")
		}
		if token == "" {
			return nil, errNoToken
		}
		baseURL := cfg["base_url"]
		if baseURL == "" {
			baseURL = "https://api.x.com"
		}
		return NewSource(baseURL, token, cfg["non_public_metrics"] == "true"), nil
	})
}
