package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"golang.org/x/term"

	ghosty "github.com/ghosty-im/ghosty-go"
)

// env holds GHOSTY_* overrides.
type env struct {
	Host     string `envconfig:"HOST"`
	Port     int    `envconfig:"PORT"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"warn"`
	Config   string `envconfig:"CONFIG"`
	Password string `envconfig:"PASSWORD"`
}

func loadEnv() (*env, error) {
	var e env
	if err := envconfig.Process("ghosty", &e); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}
	return &e, nil
}

func newLogger(e *env) zerolog.Logger {
	level, err := zerolog.ParseLevel(e.LogLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()
}

// settingsStore resolves the settings file from --config, GHOSTY_CONFIG or
// the default location.
func settingsStore(e *env) (*ghosty.FileSettings, error) {
	path := configFile
	if path == "" {
		path = e.Config
	}
	if path == "" {
		p, err := ghosty.DefaultSettingsPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return ghosty.NewFileSettings(path), nil
}

// newEngine builds an engine backed by the websocket transport and the
// settings file.
func newEngine(opts ...ghosty.EngineOption) (*ghosty.Engine, *env, error) {
	e, err := loadEnv()
	if err != nil {
		return nil, nil, err
	}
	store, err := settingsStore(e)
	if err != nil {
		return nil, nil, err
	}
	log := newLogger(e)
	transport := ghosty.NewWSTransport(&ghosty.WSConfig{Logger: log})

	opts = append([]ghosty.EngineOption{
		ghosty.WithLogger(log),
		ghosty.WithSettings(store),
	}, opts...)
	return ghosty.NewEngine(transport, opts...), e, nil
}

// signedIn resumes the stored session for a one-shot command, without the
// background loop.
func signedIn(ctx context.Context) (*ghosty.Engine, error) {
	return resume(ctx, ghosty.ForegroundOnly())
}

// resume builds an engine and resumes the stored session.
func resume(ctx context.Context, opts ...ghosty.EngineOption) (*ghosty.Engine, error) {
	engine, _, err := newEngine(opts...)
	if err != nil {
		return nil, err
	}
	if !engine.Restore(ctx) {
		return nil, fmt.Errorf("not signed in; run 'ghosty login <username>' first")
	}
	return engine, nil
}

// serverAddress picks the address from flags, then environment, then
// settings.
func serverAddress(engine *ghosty.Engine, e *env, host string, port int) (string, int) {
	cfg, err := engine.Settings().Load()
	if err != nil {
		cfg = ghosty.DefaultSettings()
	}
	h, p := cfg.ServerAddress()
	if e.Host != "" {
		h = e.Host
	}
	if e.Port != 0 {
		p = e.Port
	}
	if host != "" {
		h = host
	}
	if port != 0 {
		p = port
	}
	return h, p
}

// readPassword reads from GHOSTY_PASSWORD, a terminal prompt, or the first
// line of stdin.
func readPassword(e *env, prompt string) (string, error) {
	if e.Password != "" {
		return e.Password, nil
	}
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func resultError(res *ghosty.Result) error {
	if res.Success {
		return nil
	}
	return fmt.Errorf("%s error: %s", res.ErrorKind(), res.ErrorMessage())
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func newTable(header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	return table
}

func timeoutCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
