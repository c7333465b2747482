package ghosty

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	toml "github.com/pelletier/go-toml/v2"
)

const (
	DefaultServerHost = "127.0.0.1"
	DefaultServerPort = 4207
)

var validate = validator.New()

// ============================================================================
// Settings types
// ============================================================================

// Settings is the locally persisted client state.
type Settings struct {
	Server  ServerSettings  `toml:"server"`
	Auth    AuthSettings    `toml:"auth"`
	Profile ProfileSettings `toml:"profile"`
}

// ServerSettings is the address of the chat service.
type ServerSettings struct {
	Host string `toml:"host" validate:"required,hostname_rfc1123|ip"`
	Port int    `toml:"port" validate:"min=1,max=65535"`
}

// AuthSettings holds the session token.
type AuthSettings struct {
	Token string `toml:"token"`
}

// ProfileSettings caches the signed-in identity.
type ProfileSettings struct {
	UserID      int64  `toml:"user_id"`
	Username    string `toml:"username"`
	DisplayName string `toml:"display_name"`
}

// DefaultSettings returns settings pointing at the default server.
func DefaultSettings() *Settings {
	return &Settings{Server: ServerSettings{Host: DefaultServerHost, Port: DefaultServerPort}}
}

// ServerAddress returns the configured address, falling back to defaults.
func (s *Settings) ServerAddress() (string, int) {
	host, port := s.Server.Host, s.Server.Port
	if host == "" {
		host = DefaultServerHost
	}
	if port == 0 {
		port = DefaultServerPort
	}
	return host, port
}

// Identity returns the cached identity.
func (s *Settings) Identity() Identity {
	return Identity{
		UserID:      s.Profile.UserID,
		Username:    s.Profile.Username,
		DisplayName: s.Profile.DisplayName,
	}
}

// ValidateServer checks a host and port before they are dialled or stored.
func ValidateServer(host string, port int) error {
	if err := validate.Struct(ServerSettings{Host: host, Port: port}); err != nil {
		return fmt.Errorf("invalid server address %s:%d: %w", host, port, err)
	}
	return nil
}

// Set assigns a field using dot notation (e.g. "server.host").
func (s *Settings) Set(key, value string) error {
	section, field, ok := strings.Cut(key, ".")
	if !ok {
		return fmt.Errorf("key must use dot notation: section.field (e.g. server.host)")
	}

	switch section {
	case "server":
		switch field {
		case "host":
			s.Server.Host = value
		case "port":
			port, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("port must be a number: %w", err)
			}
			s.Server.Port = port
		default:
			return fmt.Errorf("unknown field %q in section [server]", field)
		}
		return ValidateServer(s.Server.Host, s.Server.Port)
	case "auth":
		if field != "token" {
			return fmt.Errorf("unknown field %q in section [auth]", field)
		}
		s.Auth.Token = value
	case "profile":
		switch field {
		case "user_id":
			id, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("user_id must be a number: %w", err)
			}
			s.Profile.UserID = id
		case "username":
			s.Profile.Username = value
		case "display_name":
			s.Profile.DisplayName = value
		default:
			return fmt.Errorf("unknown field %q in section [profile]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: server, auth, profile)", section)
	}
	return nil
}

// ============================================================================
// Stores
// ============================================================================

// SettingsStore persists Settings between runs.
type SettingsStore interface {
	Load() (*Settings, error)
	Save(*Settings) error
	// ClearSession drops the token and cached identity, keeping the server
	// address.
	ClearSession() error
}

// FileSettings stores Settings as TOML.
type FileSettings struct {
	path string
}

// NewFileSettings stores settings at path.
func NewFileSettings(path string) *FileSettings {
	return &FileSettings{path: path}
}

// DefaultSettingsPath returns ~/.ghosty/config.toml.
func DefaultSettingsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".ghosty", "config.toml"), nil
}

// Path returns the file location.
func (f *FileSettings) Path() string {
	return f.path
}

// Load reads the file. A missing file yields DefaultSettings.
func (f *FileSettings) Load() (*Settings, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultSettings(), nil
		}
		return nil, fmt.Errorf("cannot read settings: %w", err)
	}
	cfg := DefaultSettings()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse settings: %w", err)
	}
	return cfg, nil
}

// Save writes the settings with owner-only permissions.
func (f *FileSettings) Save(cfg *Settings) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("cannot create settings directory: %w", err)
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal settings: %w", err)
	}
	if err := os.WriteFile(f.path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write settings: %w", err)
	}
	return nil
}

func (f *FileSettings) ClearSession() error {
	cfg, err := f.Load()
	if err != nil {
		return err
	}
	cfg.Auth = AuthSettings{}
	cfg.Profile = ProfileSettings{}
	return f.Save(cfg)
}

// MemorySettings keeps Settings in memory.
type MemorySettings struct {
	mu  sync.Mutex
	cfg Settings
}

// NewMemorySettings starts from cfg, or DefaultSettings when nil.
func NewMemorySettings(cfg *Settings) *MemorySettings {
	if cfg == nil {
		cfg = DefaultSettings()
	}
	return &MemorySettings{cfg: *cfg}
}

func (m *MemorySettings) Load() (*Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg := m.cfg
	return &cfg, nil
}

func (m *MemorySettings) Save(cfg *Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = *cfg
	return nil
}

func (m *MemorySettings) ClearSession() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Auth = AuthSettings{}
	m.cfg.Profile = ProfileSettings{}
	return nil
}
