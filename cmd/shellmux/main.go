// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/shellmux/shellmux/internal/app"
	"github.com/shellmux/shellmux/internal/config"
)

var (
	version = "0.9"
)

func main() {
	// Check for subcommands before flag parsing
	if len(os.Args) > 1 && os.Args[1] == "init" {
		if err := runInit(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Parse flags
	var (
		configPath  string
		host        string
		port        int
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to config file (default: auto-detect)")
	flag.StringVar(&configPath, "c", "", "Path to config file (short)")
	flag.StringVar(&host, "host", "", "HTTP server host (overrides config)")
	flag.IntVar(&port, "port", 0, "HTTP server port (overrides config)")
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.BoolVar(&showVersion, "v", false, "Show version (short)")
	flag.Parse()

	if showVersion {
		fmt.Printf("shellmux %s\n", version)
		os.Exit(0)
	}

	// Find config file if not specified. Running without one is fine; every
	// setting has a default.
	if configPath == "" {
		loader := config.NewLoader()
		if found, err := loader.FindConfig(); err == nil {
			configPath = found
		}
	}
	if configPath != "" {
		log.Printf("Using config: %s", configPath)
	} else {
		log.Printf("No config file found, using defaults")
	}

	// Create and run app
	application, err := app.New(app.Options{
		ConfigPath: configPath,
		Host:       host,
		Port:       port,
		Version:    version,
	})
	if err != nil {
		log.Fatalf("Failed to create app: %v", err)
	}

	ctx := context.Background()
	if err := application.Run(ctx); err != nil {
		log.Fatalf("App error: %v", err)
	}
}

// runInit handles the "shellmux init" command
func runInit() error {
	initFlags := flag.NewFlagSet("init", flag.ExitOnError)
	showHelp := initFlags.Bool("help", false, "Show help for init command")
	initFlags.BoolVar(showHelp, "h", false, "Show help for init command")
	initFlags.Parse(os.Args[2:])

	if *showHelp {
		fmt.Println(`Usage: shellmux init [options]

Create a new shellmux.hjson configuration file in the current directory.

The generated file is commented so you can see every available option.

Options:
  -h, -help    Show this help message

The command will ask about:
  - Server port (defaults to 8000)
  - Session backend ("pty" or "pipe")
  - Default profile command (the shell new sessions run)

After running init:
  1. Review and edit shellmux.hjson as needed
  2. Run: ./shellmux`)
		return nil
	}

	configFile := "shellmux.hjson"

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("%s already exists; remove it first or use a different directory", configFile)
	}

	reader := bufio.NewReader(os.Stdin)

	fmt.Println("Shellmux Configuration Setup")
	fmt.Println("============================")
	fmt.Println()
	fmt.Println("Press Enter to accept defaults shown in [brackets].")
	fmt.Println()

	portStr := prompt(reader, "Server port", "8000")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		port = 8000
	}

	backend := prompt(reader, `Session backend ("pty" or "pipe")`, "pty")
	if backend != "pty" && backend != "pipe" {
		backend = "pty"
	}

	defaults := config.Default()
	shell := prompt(reader, "Default profile command", defaults.Profile.DefaultCommand)

	configContent := generateConfig(port, backend, shell)
	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Println()
	fmt.Printf("Created %s\n", configFile)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Review and edit shellmux.hjson as needed")
	fmt.Println("  2. Run: ./shellmux")
	fmt.Println()

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}

// escapeHJSONValue escapes a string for safe inclusion in an HJSON double-quoted value.
func escapeHJSONValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

func generateConfig(port int, backend, shell string) string {
	var sb strings.Builder

	sb.WriteString(`{
  // ===========================================================================
  // Shellmux Configuration
  // ===========================================================================
  //
  // This is an HJSON file (JSON with comments and relaxed syntax).
  // Every setting can also be overridden with a SHELLMUX_* environment
  // variable (SHELLMUX_PORT, SHELLMUX_BASE_DIR, SHELLMUX_BACKEND, ...).

  // ---------------------------------------------------------------------------
  // Server Settings
  // ---------------------------------------------------------------------------
  server: {
    // Host to bind to (use "0.0.0.0" to allow remote access)
    host: "127.0.0.1"

    // Port for the API and WebSocket endpoints
    port: `)
	sb.WriteString(strconv.Itoa(port))
	sb.WriteString(`

    // For HTTPS, uncomment and set paths to your certificates:
    // tls_cert: "~/.shellmux/cert.pem"
    // tls_key: "~/.shellmux/key.pem"
  }

  // ---------------------------------------------------------------------------
  // Paths
  // ---------------------------------------------------------------------------
  //
  // All paths default relative to base_dir, which defaults to the current
  // directory.
  paths: {
    // base_dir: "/srv/shellmux"
    // data_dir: "/srv/shellmux/backend/data"   // SQLite database location
    // logs_dir: "/srv/shellmux/backend/logs"   // Per-session raw.log files
    // database_path: "/srv/shellmux/backend/data/terminal_manage.db"
  }

  // ---------------------------------------------------------------------------
  // Sessions
  // ---------------------------------------------------------------------------
  session: {
    // Process backend: "pty" allocates a pseudo-terminal per session,
    // "pipe" uses plain pipes (no terminal emulation, separate stderr).
    backend: "`)
	sb.WriteString(escapeHJSONValue(backend))
	sb.WriteString(`"

    // Working directory for sessions whose profile has none
    // default_cwd: "/home/user/projects"

    // Seconds to wait after a submitted command before sampling git status
    // for the before/after delta
    git_diff_delay: 0.35
  }

  // ---------------------------------------------------------------------------
  // Default Profile
  // ---------------------------------------------------------------------------
  //
  // Seeded into the database on first start if no profile with this name
  // exists. Further profiles are managed through the /profiles API.
  profile: {
    default_name: "默认 PowerShell"
    default_command: "`)
	sb.WriteString(escapeHJSONValue(shell))
	sb.WriteString(`"
  }
}
`)

	return sb.String()
}
