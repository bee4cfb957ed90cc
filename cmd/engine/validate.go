package main

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/fenwick-labs/agentengine/config"
)

// ValidateCmd checks a configuration file for structural and semantic
// errors without starting anything.
type ValidateCmd struct {
	ConfigPath  string `arg:"" name:"config" help:"Configuration file path." placeholder:"PATH"`
	PrintConfig bool   `short:"p" name:"print-config" help:"Print the expanded configuration with defaults applied."`
}

func (c *ValidateCmd) Run() error {
	cfg, err := config.Load(c.ConfigPath)
	if err != nil {
		fmt.Printf("invalid: %v\n", err)
		return err
	}

	if missing := config.RequireAPIKeys(cfg); len(missing) > 0 {
		fmt.Printf("warning: missing API key(s) for provider(s): %v\n", missing)
	}

	fmt.Println("configuration is valid")

	if c.PrintConfig {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	}
	return nil
}
