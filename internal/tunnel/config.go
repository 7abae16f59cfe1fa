package tunnel

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Entry is one configured tunnel endpoint, loaded from the JSON config
// file named by TUNNEL_CONFIG_PATH.
type Entry struct {
	RemoteHost string `json:"remote_host"`
	SSHPort    int    `json:"ssh_port"`
	SSHUser    string `json:"ssh_user"`
	LocalPort  int    `json:"local_port"`
	KeyPath    string `json:"key_path"`
}

// LoadConfig reads a JSON object mapping tunnel names to Entry records.
// The returned map has no defined order and does not keep the JSON's
// key order; LoadConfigOrdered returns the entries sorted by name.
func LoadConfig(path string) (map[string]Entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tunnel: read config: %w", err)
	}
	var entries map[string]Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("tunnel: parse config: %w", err)
	}
	return entries, nil
}

// namedEntry pairs an Entry with its config key, for deterministic
// round-robin ordering.
type namedEntry struct {
	name  string
	entry Entry
}

// LoadConfigOrdered reads the config file and returns entries in a
// deterministic order (sorted by name) suitable for round-robin rotation.
func LoadConfigOrdered(path string) ([]namedEntry, error) {
	entries, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]namedEntry, 0, len(names))
	for _, name := range names {
		out = append(out, namedEntry{name: name, entry: entries[name]})
	}
	return out, nil
}
