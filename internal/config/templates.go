package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "gateway":
		return gatewayTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const gatewayTemplate = `name = "gatewire"

[gateway]
listen_addr = ":7171"
ws_listen_addr = ":7172"
capacity = 500
tick_ms = 20
idle_timeout_s = 60
cipher = "shuffle"

[security]
stamp_tolerance_s = 30
ban_repeat_count = 3
ban_repeat_window_s = 60
ban_duration_min = 30

[admin]
addr = ":9090"
cors_origins = ["http://localhost:3000"]
token = "temp-admin-token"

[dblink]
addr = "localhost:7173"
call_timeout_ms = 5000
security_mode = "development"

[accounts]
keeper = "hunter2"
`
