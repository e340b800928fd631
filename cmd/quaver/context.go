package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"quaver/internal/config"
	"quaver/internal/daemon"
	"quaver/internal/queue"
)

type commandContext struct {
	apiFlag    *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(apiFlag, configFlag *string) *commandContext {
	return &commandContext{
		apiFlag:    apiFlag,
		configFlag: configFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

// apiBind resolves the daemon address, preferring the --api flag over the
// configured bind.
func (c *commandContext) apiBind() string {
	if c.apiFlag != nil {
		if bind := strings.TrimSpace(*c.apiFlag); bind != "" {
			return bind
		}
	}
	if cfg := c.configValue(); cfg != nil {
		return cfg.Paths.APIBind
	}
	return ""
}

func (c *commandContext) newClient() (*daemon.Client, error) {
	var token string
	if cfg := c.configValue(); cfg != nil {
		token = cfg.Paths.APIToken
	}
	return daemon.NewClient(c.apiBind(), token)
}

// withClient runs fn against the daemon API and rewrites unreachable errors
// into an actionable message.
func (c *commandContext) withClient(fn func(*daemon.Client) error) error {
	client, err := c.newClient()
	if err != nil {
		return err
	}
	if err := fn(client); err != nil {
		return c.describeUnavailable(err)
	}
	return nil
}

// withRegistry runs fn against the daemon API when it answers, falling back
// to direct registry access so inspection keeps working while the daemon is
// down. Exactly one of client and store is non-nil inside fn. Mutating
// commands never take the fallback; the daemon stays the registry's only
// writer.
func (c *commandContext) withRegistry(ctx context.Context, fn func(client *daemon.Client, store queue.Store) error) error {
	client, err := c.newClient()
	if err != nil {
		return err
	}
	_, healthErr := client.Health(ctx)
	if healthErr == nil {
		return fn(client, nil)
	}
	if !daemon.IsDaemonUnavailable(healthErr) {
		return healthErr
	}

	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(nil, store)
}

func (c *commandContext) describeUnavailable(err error) error {
	if daemon.IsDaemonUnavailable(err) {
		return fmt.Errorf("daemon at %s is not reachable (start it with `quaverd`): %w", c.apiBind(), err)
	}
	return err
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
