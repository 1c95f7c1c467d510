// Package wizard provides an interactive setup wizard for justircd's
// "init" command: a short charmbracelet/huh form that produces a ready
// to run config.yaml plus an empty accounts/channels data directory.
package wizard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/larry-lines/justIRC/internal/config"
)

// Result is what the wizard produced, for the caller to report back to
// the user and to act on (write files, print next steps).
type Result struct {
	Config     *config.Config
	ConfigPath string
	DataDir    string
}

// Wizard drives the interactive prompts. existingCfg seeds the form with
// values from a config file already on disk, so re-running init to adjust
// a setting doesn't reset everything else to defaults.
type Wizard struct {
	existingCfg *config.Config
}

// New creates a setup wizard with JustIRC's documented defaults.
func New() *Wizard {
	return &Wizard{}
}

// LoadExisting seeds the wizard's defaults from a config file already on
// disk, if one exists at path. A missing file is not an error.
func (w *Wizard) LoadExisting(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	w.existingCfg = cfg
	return nil
}

// Run executes the interactive prompts and returns the assembled config.
func (w *Wizard) Run() (*Result, error) {
	printBanner()

	cfg := config.Default()
	if w.existingCfg != nil {
		cfg = w.existingCfg
	}

	var (
		portStr           = strconv.Itoa(cfg.Server.Port)
		host              = cfg.Server.Host
		serverName        = cfg.Server.ServerName
		dataDir           = cfg.Data.DataDir
		enableAuth        = cfg.Auth.EnableAuthentication
		requireAuth       = cfg.Auth.RequireAuthentication
		enableWhitelist   = cfg.IPFilter.EnableWhitelist
		logLevel          = cfg.Server.LogLevel
	)
	if serverName == "" {
		serverName = "JustIRC Server"
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Server name").
				Description("Informational; stored in config.yaml.").
				Value(&serverName),
			huh.NewInput().
				Title("Bind host").
				Value(&host),
			huh.NewInput().
				Title("Port").
				Validate(validatePort).
				Value(&portStr),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Data directory").
				Description("Where accounts.json, channels.json, and ip_rules.json are stored.").
				Value(&dataDir),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable account authentication?").
				Value(&enableAuth),
			huh.NewConfirm().
				Title("Require authentication to connect?").
				Description("Ignored unless authentication is enabled.").
				Value(&requireAuth),
			huh.NewConfirm().
				Title("Run the IP filter in whitelist mode?").
				Description("Default is blacklist mode (deny specific ranges).").
				Value(&enableWhitelist),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Log level").
				Options(
					huh.NewOption("debug", "debug"),
					huh.NewOption("info", "info"),
					huh.NewOption("warn", "warn"),
					huh.NewOption("error", "error"),
				).
				Value(&logLevel),
		),
	)

	if err := form.Run(); err != nil {
		return nil, fmt.Errorf("wizard: %w", err)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("wizard: invalid port: %w", err)
	}

	cfg.Server.ServerName = serverName
	cfg.Server.Host = host
	cfg.Server.Port = port
	cfg.Server.LogLevel = logLevel
	cfg.Data.DataDir = dataDir
	cfg.Auth.EnableAuthentication = enableAuth
	cfg.Auth.RequireAuthentication = requireAuth && enableAuth
	cfg.IPFilter.EnableWhitelist = enableWhitelist

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("wizard: generated config is invalid: %w", err)
	}

	return &Result{Config: cfg, DataDir: dataDir}, nil
}

// Write persists the result: the config file and an empty data directory.
func (r *Result) Write(configPath string) error {
	if err := os.MkdirAll(r.DataDir, 0o755); err != nil {
		return fmt.Errorf("wizard: create data dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("wizard: create config dir: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(r.Config.String()), 0o644); err != nil {
		return fmt.Errorf("wizard: write config: %w", err)
	}
	r.ConfigPath = configPath
	return nil
}

// resultForTest builds a Result without running the interactive form, for
// exercising Write() in tests.
func resultForTest(w *Wizard, dataDir string) (*Result, error) {
	cfg := config.Default()
	cfg.Data.DataDir = dataDir
	return &Result{Config: cfg, DataDir: dataDir}, nil
}

func validatePort(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("port must be a number")
	}
	if n < 1 || n > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}

var bannerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("205"))

func printBanner() {
	fmt.Println(bannerStyle.Render("JustIRC server setup"))
	fmt.Println("Answer a few questions to generate config.yaml.")
	fmt.Println()
}
