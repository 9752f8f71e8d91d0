package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/quartzboard/authz"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "convert":
		handleConvert()
	case "validate":
		handleValidate()
	case "stats":
		handleStats()
	case "apply":
		handleApply()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("authz-config - Configuration tool for authz")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  authz-config convert <input> <output>  - Convert between formats")
	fmt.Println("  authz-config validate <file>           - Validate configuration")
	fmt.Println("  authz-config stats <file>              - Show configuration statistics")
	fmt.Println("  authz-config apply <file>              - Dry-run apply against memory stores")
	fmt.Println()
	fmt.Println("Supported formats: .yaml, .yml, .json")
}

func handleConvert() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: authz-config convert <input> <output>")
		os.Exit(1)
	}

	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := saveConfig(cfg, os.Args[3]); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Converted %s -> %s\n", os.Args[2], os.Args[3])
}

func handleValidate() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: authz-config validate <file>")
		os.Exit(1)
	}

	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  Roles:              %d\n", len(cfg.Roles))
	fmt.Printf("  Memberships:        %d\n", len(cfg.Memberships))
	fmt.Printf("  Policies:           %d\n", len(cfg.Policies))
	fmt.Printf("  Inheritance edges:  %d\n", len(cfg.InheritanceEdges))
	fmt.Printf("  Masking rules:      %d\n", len(cfg.MaskingRules))
	fmt.Printf("  Column bindings:    %d\n", len(cfg.ColumnBindings))
	fmt.Printf("  Column permissions: %d\n", len(cfg.ColumnPermissions))
	fmt.Printf("  Sensitivity:        %d\n", len(cfg.Sensitivity))
	fmt.Printf("  Delegations:        %d\n", len(cfg.Delegations))
}

func handleStats() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: authz-config stats <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Configuration Statistics")
	fmt.Println("========================")
	if stat, err := os.Stat(filename); err == nil {
		fmt.Printf("File size: %d bytes\n", stat.Size())
	}
	fmt.Println()

	if len(cfg.Policies) > 0 {
		allowCount := 0
		denyCount := 0
		for _, p := range cfg.Policies {
			if p.Effect == authz.EffectAllow {
				allowCount++
			} else {
				denyCount++
			}
		}
		fmt.Println("Policy Details:")
		fmt.Printf("  Allow policies: %d\n", allowCount)
		fmt.Printf("  Deny policies:  %d\n", denyCount)
		fmt.Println()
	}

	if len(cfg.Roles) > 0 {
		totalPerms := 0
		for _, r := range cfg.Roles {
			totalPerms += len(r.Permissions)
		}
		fmt.Println("Role Details:")
		fmt.Printf("  Total permissions: %d\n", totalPerms)
		fmt.Printf("  Avg per role:      %.1f\n", float64(totalPerms)/float64(len(cfg.Roles)))
		fmt.Println()
	}

	if len(cfg.MaskingRules) > 0 {
		byType := make(map[authz.MaskingType]int)
		for _, r := range cfg.MaskingRules {
			byType[r.Type]++
		}
		fmt.Println("Masking Rules:")
		for t, n := range byType {
			fmt.Printf("  %-12s %d\n", t, n)
		}
		fmt.Println()
	}

	fmt.Println("Engine Configuration:")
	fmt.Printf("  Decision cache TTL: %dms\n", cfg.Engine.DecisionCacheTTLMs)
	fmt.Printf("  Traversal cap:      %d\n", cfg.Engine.TraversalCap)
	fmt.Printf("  Audit buffer size:  %d\n", cfg.Engine.AuditBufferSize)
}

func handleApply() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: authz-config apply <file>")
		os.Exit(1)
	}

	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	engine, err := authz.NewEngine(authz.NewMemoryStores(), cfg.Engine.Options()...)
	if err != nil {
		fmt.Printf("Error building engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	if err := engine.ApplyConfig(context.Background(), cfg); err != nil {
		fmt.Printf("Error applying config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Configuration applied successfully\n")
	fmt.Printf("  Policies loaded:      %d\n", len(cfg.Policies))
	fmt.Printf("  Roles loaded:         %d\n", len(cfg.Roles))
	fmt.Printf("  Masking rules loaded: %d\n", len(cfg.MaskingRules))
}

func loadConfig(filename string) (*authz.Config, error) {
	loader := authz.NewConfigLoader()
	return loader.LoadFile(filename)
}

func saveConfig(cfg *authz.Config, filename string) error {
	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		data, err = cfg.ToYAML()
	case ".json":
		data, err = cfg.ToJSON()
	default:
		return fmt.Errorf("unsupported output format: %s", filename)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0o644)
}
