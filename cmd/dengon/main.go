package main

import (
	"fmt"
	"os"

	"github.com/bdobrica/Dengon/common/environment"
	"github.com/bdobrica/Dengon/common/version"
	"github.com/bdobrica/Dengon/internal/dengon/app"
	"github.com/bdobrica/Dengon/internal/dengon/config"
)

func main() {
	fmt.Printf("Dengon Message Hub\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Println()

	cfg, configPath, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	hub, err := app.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize Dengon: %v\n", err)
		os.Exit(1)
	}
	defer hub.Stop()

	if configPath != "" {
		hub.WatchConfig(configPath)
	}

	if err := hub.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running Dengon: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the YAML document named by DENGON_CONFIG, or falls
// back to environment-only configuration.
func loadConfig() (*config.Config, string, error) {
	path := environment.StringOr("DENGON_CONFIG", "")
	var cfg *config.Config
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, "", err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	// Environment overrides win over the document.
	cfg.DataDir = environment.StringOr("DENGON_DATA_DIR", cfg.DataDir)
	cfg.HTTPAddr = environment.StringOr("DENGON_HTTP_ADDR", cfg.HTTPAddr)
	cfg.Namespace = environment.StringOr("DENGON_NAMESPACE", cfg.Namespace)
	return cfg, path, nil
}
