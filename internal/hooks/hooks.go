// Package hooks registers codemie-sync in an agent's settings file so the
// agent triggers an extraction pass when a turn or session ends.
package hooks

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/codemie-ai/codemie-sync/internal/fsx"
	"github.com/codemie-ai/codemie-sync/internal/provider"
)

// Marker identifies hook commands owned by this tool
const Marker = "codemie-sync"

const hookTimeout = 30000

// Target is where and on which events a provider's hooks are registered
type Target struct {
	Provider     string
	DisplayName  string
	SettingsPath string
	Events       []string
}

// TargetFor returns the hook target of a provider under the user's home
func TargetFor(providerName, home string) (Target, error) {
	switch providerName {
	case provider.ClaudeName:
		return Target{
			Provider:     providerName,
			DisplayName:  "Claude Code",
			SettingsPath: filepath.Join(home, ".claude", "settings.json"),
			Events:       []string{"Stop", "SessionEnd"},
		}, nil
	case provider.GeminiName:
		return Target{
			Provider:     providerName,
			DisplayName:  "Gemini CLI",
			SettingsPath: filepath.Join(home, ".gemini", "settings.json"),
			Events:       []string{"AfterAgent", "SessionEnd"},
		}, nil
	default:
		return Target{}, fmt.Errorf("hooks not supported for provider %q", providerName)
	}
}

// Command is the hook command line for an executable
func Command(exePath, providerName string) string {
	return fmt.Sprintf("%s hook --provider %s", exePath, providerName)
}

// Install adds command to each event of the target, keeping the hooks other
// tools registered. Events that already run one of our commands are
// rewritten in place. Returns the number of events touched.
func Install(t Target, command string) (int, error) {
	settings, err := readSettings(t.SettingsPath)
	if err != nil {
		return 0, err
	}
	hooks, _ := settings["hooks"].(map[string]any)
	if hooks == nil {
		hooks = make(map[string]any)
		settings["hooks"] = hooks
	}

	for _, event := range t.Events {
		groups, _ := hooks[event].([]any)
		groups = removeOurs(groups)
		groups = append(groups, map[string]any{
			"hooks": []any{map[string]any{
				"type":    "command",
				"command": command,
				"timeout": hookTimeout,
			}},
		})
		hooks[event] = groups
	}

	if err := writeSettings(t.SettingsPath, settings); err != nil {
		return 0, err
	}
	return len(t.Events), nil
}

// Uninstall removes our commands from every event of the settings file.
// Returns the number of events that had one.
func Uninstall(t Target) (int, error) {
	settings, err := readSettings(t.SettingsPath)
	if err != nil {
		return 0, err
	}
	hooks, ok := settings["hooks"].(map[string]any)
	if !ok {
		return 0, nil
	}

	removed := 0
	for event, config := range hooks {
		groups, ok := config.([]any)
		if !ok || !containsMarker(groups) {
			continue
		}
		removed++
		if kept := removeOurs(groups); len(kept) > 0 {
			hooks[event] = kept
		} else {
			delete(hooks, event)
		}
	}
	if removed == 0 {
		return 0, nil
	}
	if len(hooks) == 0 {
		delete(settings, "hooks")
	}
	return removed, writeSettings(t.SettingsPath, settings)
}

// Installed counts the events that run one of our commands
func Installed(t Target) (int, error) {
	settings, err := readSettings(t.SettingsPath)
	if err != nil {
		return 0, err
	}
	hooks, _ := settings["hooks"].(map[string]any)
	count := 0
	for _, config := range hooks {
		if groups, ok := config.([]any); ok && containsMarker(groups) {
			count++
		}
	}
	return count, nil
}

func readSettings(path string) (map[string]any, error) {
	settings := make(map[string]any)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return settings, nil
		}
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return settings, nil
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("failed to parse existing settings: %w", err)
	}
	return settings, nil
}

func writeSettings(path string, settings map[string]any) error {
	if err := fsx.WriteJSON(path, settings, 0o644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}

// removeOurs drops our commands from hook groups and any group left empty
func removeOurs(groups []any) []any {
	var kept []any
	for _, g := range groups {
		group, ok := g.(map[string]any)
		if !ok {
			kept = append(kept, g)
			continue
		}
		entries, _ := group["hooks"].([]any)
		var others []any
		for _, e := range entries {
			if !isOurs(e) {
				others = append(others, e)
			}
		}
		if len(others) == 0 && len(entries) > 0 {
			continue
		}
		group["hooks"] = others
		kept = append(kept, group)
	}
	return kept
}

func containsMarker(groups []any) bool {
	for _, g := range groups {
		group, ok := g.(map[string]any)
		if !ok {
			continue
		}
		entries, _ := group["hooks"].([]any)
		for _, e := range entries {
			if isOurs(e) {
				return true
			}
		}
	}
	return false
}

func isOurs(entry any) bool {
	e, ok := entry.(map[string]any)
	if !ok {
		return false
	}
	command, _ := e["command"].(string)
	return strings.Contains(command, Marker) && strings.Contains(command, " hook")
}
