// ABOUTME: The init subcommand writes a relay config file from interactive prompts
// ABOUTME: Generates a random JWT secret for the announcement endpoint

package main

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/2389/coven-relay/internal/config"
)

// initAnswers holds the values gathered by runInit.
type initAnswers struct {
	HTTPAddr     string
	DBDriver     string
	DBPath       string
	ProviderURL  string
	Homeserver   string
	UserID       string
	Password     string
	RecoveryKey  string
	AllowedRooms []string
	JWTSecret    string
	LogLevel     string
	LogFormat    string
}

func runInit() error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println("    Interactive Setup")
	fmt.Println("    -----------------")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)

	outputFile := prompt(reader, "Config file path", getConfigPath())
	if _, err := os.Stat(outputFile); err == nil {
		yellow.Printf("    Config already exists at %s\n", outputFile)
		if !yes(prompt(reader, "Overwrite?", "no")) {
			fmt.Println("    Aborted.")
			return nil
		}
	}

	secret, err := randomSecret()
	if err != nil {
		return err
	}

	answers := initAnswers{JWTSecret: secret}

	fmt.Println("\n--- Server ---")
	answers.HTTPAddr = prompt(reader, "HTTP address", "localhost:8080")

	fmt.Println("\n--- Session Store ---")
	answers.DBDriver = prompt(reader, "Driver (sqlite/bolt)", "sqlite")
	answers.DBPath = prompt(reader, "Database path", filepath.Join(getDataPath(), "relay."+dbExtension(answers.DBDriver)))

	fmt.Println("\n--- Completion Provider ---")
	answers.ProviderURL = prompt(reader, "Provider base URL", "http://localhost:3000")

	fmt.Println("\n--- Matrix ---")
	answers.Homeserver = prompt(reader, "Homeserver URL", "https://matrix.org")
	answers.UserID = prompt(reader, "Bot user ID (e.g. @relay:matrix.org)", "")
	answers.Password = prompt(reader, "Password", "")
	answers.RecoveryKey = prompt(reader, "Recovery key (optional, for E2EE)", "")
	if rooms := prompt(reader, "Allowed rooms, comma separated (empty = all)", ""); rooms != "" {
		for _, r := range strings.Split(rooms, ",") {
			if r = strings.TrimSpace(r); r != "" {
				answers.AllowedRooms = append(answers.AllowedRooms, r)
			}
		}
	}

	fmt.Println("\n--- Logging ---")
	answers.LogLevel = prompt(reader, "Log level (debug/info/warn/error)", "info")
	answers.LogFormat = prompt(reader, "Log format (text/json)", "text")

	content, err := renderConfig(answers)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// Holds the Matrix password and JWT secret.
	if err := os.WriteFile(outputFile, content, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Println()
	green.Printf("    ✓ Config written to %s\n", outputFile)
	fmt.Println()
	fmt.Println("    Next steps:")
	fmt.Println("    1. Review provider.clients in the config")
	fmt.Println("    2. Run: coven-relay serve")
	fmt.Println()
	return nil
}

// renderConfig builds a config from the answers and marshals it as YAML.
func renderConfig(a initAnswers) ([]byte, error) {
	cfg := config.Config{
		Server:   config.ServerConfig{HTTPAddr: a.HTTPAddr},
		Database: config.DatabaseConfig{Driver: a.DBDriver, Path: a.DBPath},
		Provider: config.ProviderConfig{
			BaseURL:           a.ProviderURL,
			Default:           "chatgpt",
			RequestTimeoutRaw: config.DefaultRequestTimeout.String(),
			Clients: []config.ProviderClientConfig{
				{Key: "chatgpt", Kind: "thread", ClientToUse: "chatgpt"},
				{Key: "bing", Kind: "bound", ClientToUse: "bing"},
			},
		},
		Relay: config.RelayConfig{MaxSegmentLength: config.DefaultMaxSegmentLength},
		Matrix: config.MatrixConfig{
			Homeserver:      a.Homeserver,
			UserID:          a.UserID,
			Password:        a.Password,
			RecoveryKey:     a.RecoveryKey,
			AllowedRooms:    a.AllowedRooms,
			CommandPrefix:   config.DefaultCommandPrefix,
			TypingIndicator: true,
		},
		Auth:    config.AuthConfig{JWTSecret: a.JWTSecret},
		Logging: config.LoggingConfig{Level: a.LogLevel, Format: a.LogFormat},
		Metrics: config.MetricsConfig{Enabled: true, Path: config.DefaultMetricsPath},
	}

	body, err := yaml.Marshal(&cfg)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	header := "# coven-relay configuration\n# Generated by coven-relay init\n\n"
	return append([]byte(header), body...), nil
}

func dbExtension(driver string) string {
	if driver == "bolt" {
		return "bolt"
	}
	return "db"
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func yes(answer string) bool {
	a := strings.ToLower(answer)
	return a == "y" || a == "yes"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("    %s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("    %s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil && (err != io.EOF || input == "") {
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}
