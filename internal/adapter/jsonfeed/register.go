package jsonfeed

import (
	"errors"

	"github.com/Strob0t/LaunchLoop/internal/port/metricsource"
)

func init() {
	metricsource.Register(platformName, func(cfg map[string]string) (metricsource.Source, error) {
		if cfg["base_url"] == "" {
			return nil, errors.New("jsonfeed: base_url is required")
		}
		fm, err := parseFieldMap(cfg["field_map"])
		if err != nil {
			return nil, err
		}
		return NewSource(cfg["base_url"], cfg["token"], fm), nil
	})
}
