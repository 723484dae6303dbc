// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// configcmd.go - Config command implementation for stepflow.
//
// Command: config [subcommand]
//
// Subcommands:
//   show (default)      Display current configuration
//   get <key>           Print a single value
//   set <key> <value>   Set a configuration value
//   path                Show configuration file path
//
// Examples:
//   stepflow config                              Show current config
//   stepflow config get ollama.model             Print one value
//   stepflow config set ollama.model llama3.1:8b
//   stepflow config set execution.dry_run true
//   stepflow config set sessions.retention_days 14
//   stepflow config path                         Config file location
//
// Keys use dot notation (section.key). Run "stepflow config show" to
// list every key with its current value.

package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/jeranaias/stepflow/internal/config"
)

// =============================================================================
// HANDLE CONFIG
// =============================================================================

// HandleConfig handles the "config" command.
func HandleConfig(args Args) error {
	switch args.Subcommand {
	case "", "show":
		return configShow()

	case "get":
		if args.ConfigKey == "" {
			return ErrMissingArgument("config key", "stepflow config get <key>")
		}
		return configGet(args.ConfigKey)

	case "set":
		if args.ConfigKey == "" {
			return ErrMissingArgument("config key", "stepflow config set <key> <value>")
		}
		if args.ConfigVal == "" {
			return ErrMissingArgument("config value", fmt.Sprintf("stepflow config set %s <value>", args.ConfigKey))
		}
		return configSet(args.ConfigKey, args.ConfigVal)

	case "path":
		return configPath()

	default:
		return &ValidationError{
			Field:   "subcommand",
			Value:   args.Subcommand,
			Reason:  "unknown config subcommand",
			Example: "stepflow config [show|get|set|path]",
		}
	}
}

// =============================================================================
// SUBCOMMANDS
// =============================================================================

// configShow displays every configuration key grouped by section.
func configShow() error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %s (using defaults)\n", err)
	}
	if cfg == nil {
		cfg = config.Default()
	}

	fmt.Println()
	fmt.Println(TitleStyle.Render("stepflow Configuration"))
	fmt.Println(RenderSeparator(41))

	section := ""
	for _, key := range config.GetAllKeys() {
		val, err := cfg.Get(key)
		if err != nil {
			continue
		}

		name := key
		if i := strings.IndexByte(key, '.'); i >= 0 {
			if key[:i] != section {
				section = key[:i]
				fmt.Println()
				fmt.Println(SectionStyle.Render("[" + section + "]"))
			}
			name = key[i+1:]
			fmt.Printf("  %s%s\n",
				RenderLabel(name+":", 22),
				ValueStyle.Render(fmt.Sprintf("%v", val)))
			continue
		}
		fmt.Printf("%s%s\n",
			RenderLabel(name+":", 24),
			ValueStyle.Render(fmt.Sprintf("%v", val)))
	}

	path, err := config.ConfigPathTOML()
	if err == nil {
		fmt.Println()
		fmt.Println(RenderSeparator(41))
		fmt.Printf("Config file: %s\n", DimStyle.Render(path))
	}
	fmt.Println()
	return nil
}

// configGet prints a single value, suitable for scripting.
func configGet(key string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	val, err := cfg.Get(strings.ToLower(key))
	if err != nil {
		return &ValidationError{
			Field:   "config key",
			Value:   key,
			Reason:  "unknown key",
			Example: "stepflow config show   (lists all keys)",
		}
	}

	fmt.Printf("%v\n", val)
	return nil
}

// configSet updates one value, validates the result, and saves.
func configSet(key, value string) error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %s (using defaults)\n", err)
	}
	if cfg == nil {
		cfg = config.Default()
	}

	key = strings.ToLower(key)
	if err := cfg.Set(key, value); err != nil {
		return &ValidationError{
			Field:   "config key",
			Value:   key,
			Reason:  err.Error(),
			Example: "stepflow config show   (lists all keys)",
		}
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration value: %w", err)
	}
	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("%s %s = %s\n", SuccessStyle.Render("[OK]"), key, value)
	return nil
}

// configPath shows where the config file lives.
func configPath() error {
	path, err := config.ConfigPathTOML()
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	fmt.Println(path)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, DimStyle.Render("Note: file does not exist yet; it is created on first 'config set'."))
	}
	return nil
}
