package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDeriveWSURL(t *testing.T) {
	ws, err := DeriveWSURL("https://api.example.com")
	require.NoError(t, err)
	require.Equal(t, "wss://api.example.com", ws)

	ws, err = DeriveWSURL("http://localhost:8000")
	require.NoError(t, err)
	require.Equal(t, "ws://localhost:8000", ws)

	ws, err = DeriveWSURL("wss://already.example.com")
	require.NoError(t, err)
	require.Equal(t, "wss://already.example.com", ws)

	_, err = DeriveWSURL("ftp://nope")
	require.Error(t, err)
}

func TestLoad_DefaultsAndDerivedWSOrigin(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8000", cfg.APIBaseURL)
	require.Equal(t, "ws://localhost:8000", cfg.WSBaseURL)
	require.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	require.NotEmpty(t, cfg.SessionDBPath)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("INTAKE_API_BASE_URL", "https://intake.willowlend.com")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "https://intake.willowlend.com", cfg.APIBaseURL)
	require.Equal(t, "wss://intake.willowlend.com", cfg.WSBaseURL)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "intake.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api_base_url: https://cfg.example.com\nlog_level: debug\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://cfg.example.com", cfg.APIBaseURL)
	require.Equal(t, "wss://cfg.example.com", cfg.WSBaseURL)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestChannelURLs(t *testing.T) {
	cfg := Config{WSBaseURL: "wss://api.example.com"}
	require.Equal(t, "wss://api.example.com/ws/applications/app-1", cfg.ApplicationChannelURL("app-1"))
	require.Equal(t, "wss://api.example.com/ws/servicer/notifications", cfg.ServicerChannelURL())
}
