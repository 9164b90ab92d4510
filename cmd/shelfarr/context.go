package main

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"shelfarr/internal/config"
	"shelfarr/internal/daemon"
	"shelfarr/internal/logging"
)

type commandContext struct {
	configFlag *string
	verbose    *bool

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error

	// runtimeOptions lets tests swap adapters and collaborators.
	runtimeOptions []daemon.RuntimeOption
}

func newCommandContext(configFlag *string, verbose *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		verbose:    verbose,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

// cliLogger writes console logs to stderr so command output stays clean.
func (c *commandContext) cliLogger(cmd *cobra.Command) (*slog.Logger, error) {
	level := "warn"
	if c.verbose != nil && *c.verbose {
		level = "debug"
	}
	return logging.New(logging.Options{
		Level:  level,
		Format: "console",
		Writer: cmd.ErrOrStderr(),
	})
}

// withRuntime opens the store and processors for one command.
func (c *commandContext) withRuntime(cmd *cobra.Command, fn func(*daemon.Runtime) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := c.cliLogger(cmd)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	rt, err := daemon.NewRuntime(cfg, logger, c.runtimeOptions...)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
