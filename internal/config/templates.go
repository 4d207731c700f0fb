package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Market Alerts Configuration

[engine]
# Monitoring loop cadence
tick_interval = "1s"
# Snapshots kept per instrument
history_capacity = 600
# Age after which a cached snapshot is no longer current
staleness_ttl = "30s"
# Optional YAML rule file imported at start
rules_file = ""

[dispatcher]
# Workers draining the trigger queue
workers = 4
# Triggers buffered before new ones are dropped
queue_size = 256
# Timeout for a single channel send
send_timeout = "10s"
# Concurrent channel sends per trigger
max_in_flight = 4
# Consecutive failures before a channel is paused
breaker_failures = 5
breaker_cooldown = "1m"
# Attempts for HTTP channels
retry_attempts = 2
retry_initial_wait = "200ms"

[notifications.email]
enabled = false
smtp_host = ""
smtp_port = 587
username = ""
password = ""
from = ""
to = ""

[notifications.slack]
enabled = false
webhook_url = ""
channel = ""

[notifications.discord]
enabled = false
webhook_url = ""

[notifications.desktop]
enabled = true
color = true

[notifications.webhook]
enabled = false
url = ""

[notifications.sms]
enabled = false
gateway_url = ""
account_id = ""
token = ""
from = ""
to = []
# Sends per minute; 0 means unlimited
rate_per_minute = 6

[store]
# Storage driver: "sqlite" or "memory"
driver = "sqlite"
# Defaults to alerts.db in this directory
path = ""

[feed]
enabled = false
url = ""
symbols = []
initial_delay = "1s"
max_delay = "30s"
read_timeout = "0s"

[api]
enabled = true
listen = "127.0.0.1:8086"

[logging]
# debug, info, warn, error
level = "info"
file = false
file_path = ""
`

func createTemplateConfig(configDir, name string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name+".toml")
	// Restricted permissions: the file holds channel credentials.
	if err := os.WriteFile(path, []byte(configTemplate), 0600); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return nil
}
