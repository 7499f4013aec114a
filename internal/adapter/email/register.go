package email

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Strob0t/LaunchLoop/internal/port/notifier"
)

func init() {
	notifier.Register(providerName, func(config map[string]string) (notifier.Notifier, error) {
		port := 587
		if p := config["port"]; p != "" {
			v, err := strconv.Atoi(p)
			if err != nil {
				return nil, fmt.Errorf("email: invalid port %q", p)
			}
			port = v
		}
		var to []string
		for _, addr := range strings.Split(config["to"], ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				to = append(to, addr)
			}
		}
		return NewNotifier(SMTPConfig{
			Host:     config["host"],
			Port:     port,
			From:     config["from"],
			Password: config["password"],
			To:       to,
		}), nil
	})
}
