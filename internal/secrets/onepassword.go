// Package secrets pulls deployment credentials from the 1Password CLI and
// exposes them as environment variables for config.Load.
package secrets

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
)

// opItem mirrors the `op item get --format json` output we care about.
type opItem struct {
	Fields []struct {
		ID    string `json:"id"`
		Label string `json:"label"`
		Value string `json:"value"`
	} `json:"fields"`
}

// Enabled reports whether the 1Password service account is configured. An
// interactive prompt from the CLI is never acceptable here.
func Enabled() bool {
	return os.Getenv("OP_SERVICE_ACCOUNT_TOKEN") != ""
}

// LoadItem fetches one item from a vault and returns its fields keyed by
// label (falling back to field id).
func LoadItem(vault, item string) (map[string]string, error) {
	if !Enabled() {
		return nil, fmt.Errorf("OP_SERVICE_ACCOUNT_TOKEN not set")
	}

	out, err := exec.Command("op", "item", "get", item, "--vault", vault, "--format", "json").Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("1Password CLI failed: %s", string(ee.Stderr))
		}
		return nil, fmt.Errorf("1Password CLI failed: %w", err)
	}

	var parsed opItem
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("parse 1Password item: %w", err)
	}

	fields := make(map[string]string, len(parsed.Fields))
	for _, f := range parsed.Fields {
		key := f.Label
		if key == "" {
			key = f.ID
		}
		if key != "" && f.Value != "" {
			fields[key] = f.Value
		}
	}
	return fields, nil
}

// Export sets each loaded field as an environment variable unless the
// variable is already present; explicit env always wins over the vault.
func Export(fields map[string]string) {
	for k, v := range fields {
		if os.Getenv(k) == "" {
			os.Setenv(k, v)
		}
	}
}
