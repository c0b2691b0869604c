package hooks

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readJSON(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestInstallPreservesOtherSettings(t *testing.T) {
	home := t.TempDir()
	target, err := TargetFor("claude", home)
	require.NoError(t, err)

	existing := `{"model":"opus","hooks":{"Stop":[{"hooks":[{"type":"command","command":"notify-send done"}]}]}}`
	require.NoError(t, os.MkdirAll(filepath.Dir(target.SettingsPath), 0o755))
	require.NoError(t, os.WriteFile(target.SettingsPath, []byte(existing), 0o644))

	cmd := Command("/usr/local/bin/codemie-sync", "claude")
	n, err := Install(target, cmd)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	settings := readJSON(t, target.SettingsPath)
	assert.Equal(t, "opus", settings["model"])
	hooks := settings["hooks"].(map[string]any)
	assert.Len(t, hooks["Stop"].([]any), 2)
	assert.Len(t, hooks["SessionEnd"].([]any), 1)

	count, err := Installed(target)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestInstallIsIdempotent(t *testing.T) {
	target, err := TargetFor("gemini", t.TempDir())
	require.NoError(t, err)

	_, err = Install(target, Command("/old/codemie-sync", "gemini"))
	require.NoError(t, err)
	_, err = Install(target, Command("/new/codemie-sync", "gemini"))
	require.NoError(t, err)

	hooks := readJSON(t, target.SettingsPath)["hooks"].(map[string]any)
	groups := hooks["AfterAgent"].([]any)
	require.Len(t, groups, 1)
	entry := groups[0].(map[string]any)["hooks"].([]any)[0].(map[string]any)
	assert.Equal(t, "/new/codemie-sync hook --provider gemini", entry["command"])
}

func TestUninstallKeepsForeignHooks(t *testing.T) {
	home := t.TempDir()
	target, err := TargetFor("claude", home)
	require.NoError(t, err)

	existing := `{"hooks":{"Stop":[{"hooks":[{"type":"command","command":"notify-send done"}]}]}}`
	require.NoError(t, os.MkdirAll(filepath.Dir(target.SettingsPath), 0o755))
	require.NoError(t, os.WriteFile(target.SettingsPath, []byte(existing), 0o644))
	_, err = Install(target, Command("codemie-sync", "claude"))
	require.NoError(t, err)

	removed, err := Uninstall(target)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	hooks := readJSON(t, target.SettingsPath)["hooks"].(map[string]any)
	assert.NotContains(t, hooks, "SessionEnd")
	stop := hooks["Stop"].([]any)
	require.Len(t, stop, 1)

	count, err := Installed(target)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestUninstallRemovesEmptyHooks(t *testing.T) {
	target, err := TargetFor("claude", t.TempDir())
	require.NoError(t, err)
	_, err = Install(target, Command("codemie-sync", "claude"))
	require.NoError(t, err)

	_, err = Uninstall(target)
	require.NoError(t, err)
	assert.NotContains(t, readJSON(t, target.SettingsPath), "hooks")
}

func TestUninstallMissingFile(t *testing.T) {
	target, err := TargetFor("claude", t.TempDir())
	require.NoError(t, err)
	removed, err := Uninstall(target)
	require.NoError(t, err)
	assert.Zero(t, removed)
	_, statErr := os.Stat(target.SettingsPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestCorruptSettingsRejected(t *testing.T) {
	target, err := TargetFor("claude", t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(target.SettingsPath), 0o755))
	require.NoError(t, os.WriteFile(target.SettingsPath, []byte("{"), 0o644))

	_, err = Install(target, "codemie-sync hook")
	require.Error(t, err)
}

func TestTargetForUnknown(t *testing.T) {
	_, err := TargetFor("cursor", "/home/u")
	require.Error(t, err)
}
