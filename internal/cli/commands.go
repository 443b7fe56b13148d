// Package cli implements the pillpald subcommands that run without the
// daemon: status, config inspection, diagnostics.
package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/pillpal/pillpald/internal/config"
)

var Version = "dev"

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	badStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// styled applies s only when stdout is a terminal.
func styled(s lipgloss.Style, text string) string {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return text
	}
	return s.Render(text)
}

// HandleConfigCommand implements `pillpald config <get|show|path>`.
func HandleConfigCommand(args []string) {
	if len(args) == 0 {
		PrintConfigHelp()
		return
	}

	cfg, err := config.Load("", "")
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	configPath := filepath.Join(cfg.Storage.DataDir, "pillpal.yaml")

	switch args[0] {
	case "get":
		if len(args) < 2 {
			fmt.Println("Usage: pillpald config get <key>")
			fmt.Println("Example: pillpald config get engine.grace_minutes")
			os.Exit(1)
		}
		printConfigValue(cfg, args[1])

	case "show", "view":
		// Render the effective config, not the raw file, so env overrides
		// and defaults are visible.
		out, err := yaml.Marshal(redacted(cfg))
		if err != nil {
			fmt.Printf("Error rendering config: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(out))

	case "edit":
		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = "nano"
		}
		fmt.Printf("Opening %s in %s...\n", configPath, editor)
		syscall.Exec(editor, []string{editor, configPath}, os.Environ())

	case "path":
		fmt.Println(configPath)

	default:
		PrintConfigHelp()
	}
}

func printConfigValue(cfg *config.Config, key string) {
	switch key {
	case "server.port":
		fmt.Println(cfg.Server.Port)
	case "server.address":
		fmt.Println(cfg.Server.Address)
	case "storage.data_dir":
		fmt.Println(cfg.Storage.DataDir)
	case "upstream.base_url":
		fmt.Println(cfg.Upstream.BaseURL)
	case "engine.grace_minutes":
		fmt.Println(cfg.Engine.GraceMinutes)
	case "engine.eval_interval_secs":
		fmt.Println(cfg.Engine.EvalIntervalSecs)
	case "notify.permission":
		fmt.Println(cfg.Notify.Permission)
	case "channels.telegram.enabled":
		fmt.Println(cfg.Channels.Telegram.Enabled)
	case "channels.discord.enabled":
		fmt.Println(cfg.Channels.Discord.Enabled)
	default:
		fmt.Printf("Unknown key: %s\n", key)
		fmt.Println("Available keys: server.port, server.address, storage.data_dir, upstream.base_url, engine.grace_minutes, engine.eval_interval_secs, notify.permission")
	}
}

// redactedConfig is the config shape safe to print.
type redactedConfig struct {
	Server   config.ServerConfig   `yaml:"server"`
	Upstream config.UpstreamConfig `yaml:"upstream"`
	Engine   config.EngineConfig   `yaml:"engine"`
	Storage  config.StorageConfig  `yaml:"storage"`
	Notify   config.NotifyConfig   `yaml:"notify"`
}

func redacted(cfg *config.Config) redactedConfig {
	out := redactedConfig{
		Server:   cfg.Server,
		Upstream: cfg.Upstream,
		Engine:   cfg.Engine,
		Storage:  cfg.Storage,
		Notify:   cfg.Notify,
	}
	if out.Upstream.ClientSecret != "" {
		out.Upstream.ClientSecret = "********"
	}
	return out
}

// HandleStatusCommand prints the daemon's current adherence state, falling
// back to static config when the daemon is not running.
func HandleStatusCommand() {
	cfg, err := config.Load("", "")
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(styled(titleStyle, "PillPal Status"))
	fmt.Println()
	fmt.Printf("Version: %s\n", Version)
	fmt.Printf("Config:  %s\n", filepath.Join(cfg.Storage.DataDir, "pillpal.yaml"))
	fmt.Printf("Data:    %s\n", cfg.Storage.DataDir)
	fmt.Println()
	fmt.Println("Server Configuration:")
	fmt.Printf("  Address: %s:%d\n", cfg.Server.Address, cfg.Server.Port)
	fmt.Println()
	fmt.Println("Caregiver Channels:")
	fmt.Printf("  Telegram: %s\n", channelStatus(cfg.Channels.Telegram.Enabled))
	fmt.Printf("  Discord:  %s\n", channelStatus(cfg.Channels.Discord.Enabled))
	fmt.Println()

	health, err := fetchHealth(cfg)
	if err != nil {
		fmt.Println(styled(warnStyle, "Daemon: not running"))
		fmt.Println("Start it with: pillpald")
		return
	}

	fmt.Println(styled(okStyle, "Daemon: running"))
	if ts, ok := health["lastEvalUnix"].(float64); ok && ts > 0 {
		fmt.Printf("Last evaluation: %s\n", time.Unix(int64(ts), 0).Format(time.RFC1123))
	}
	fmt.Println()
	fmt.Println("Run 'pillpald doctor' for diagnostics")
}

func fetchHealth(cfg *config.Config) (map[string]interface{}, error) {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://localhost:%d/api/health", cfg.Server.Port))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var health map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, err
	}
	return health, nil
}

func channelStatus(enabled bool) string {
	if enabled {
		return styled(okStyle, "enabled")
	}
	return "disabled"
}

// HandleDoctorCommand runs local diagnostics.
func HandleDoctorCommand() {
	fmt.Println(styled(titleStyle, "PillPal Diagnostics"))
	fmt.Println()

	issues := 0

	cfg, err := config.Load("", "")
	if err != nil {
		fmt.Println(styled(badStyle, "✗ Config: failed to load"))
		fmt.Printf("   %v\n", err)
		fmt.Println()
		fmt.Println("Set PILLPAL_UPSTREAM_BASE_URL or create a config file.")
		os.Exit(1)
	}
	fmt.Println(styled(okStyle, "✓ Config: loaded"))

	if _, err := os.Stat(cfg.Storage.DataDir); os.IsNotExist(err) {
		fmt.Println(styled(badStyle, "✗ Data directory: does not exist"))
		issues++
	} else {
		fmt.Println(styled(okStyle, "✓ Data directory: exists"))
	}

	client := &http.Client{Timeout: 5 * time.Second}
	if resp, err := client.Get(cfg.Upstream.BaseURL + "/api/v1/medications"); err != nil {
		fmt.Println(styled(warnStyle, "! Dose store: unreachable"))
		fmt.Printf("   %v\n", err)
		issues++
	} else {
		resp.Body.Close()
		fmt.Println(styled(okStyle, "✓ Dose store: reachable"))
	}

	if _, err := fetchHealth(cfg); err != nil {
		fmt.Println(styled(warnStyle, "! Daemon: not running"))
	} else {
		fmt.Println(styled(okStyle, "✓ Daemon: running"))
	}

	fmt.Println()
	if issues == 0 {
		fmt.Println(styled(okStyle, "All checks passed"))
	} else {
		fmt.Printf("Found %d issue(s).\n", issues)
	}
}

// PrintConfigHelp prints config subcommand usage.
func PrintConfigHelp() {
	fmt.Println("Usage: pillpald config <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  get <key>   Print one config value")
	fmt.Println("  show        Print the effective config as YAML")
	fmt.Println("  edit        Open the config file in $EDITOR")
	fmt.Println("  path        Print the config file path")
}

// PrintExtendedHelp prints top-level usage.
func PrintExtendedHelp() {
	fmt.Println("Usage: pillpald [command] [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  status      Show daemon and adherence status")
	fmt.Println("  doctor      Run diagnostics")
	fmt.Println("  config      Inspect configuration")
	fmt.Println("  version     Print version")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  -config <path>   Path to config file")
	fmt.Println("  -data <path>     Path to data directory")
}
