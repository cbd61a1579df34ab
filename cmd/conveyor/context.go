package main

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"conveyor/internal/config"
	"conveyor/internal/remote"
)

type commandContext struct {
	nodeFlag   *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(nodeFlag, configFlag *string) *commandContext {
	return &commandContext{
		nodeFlag:   nodeFlag,
		configFlag: configFlag,
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
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

func (c *commandContext) nodeURL() string {
	if c.nodeFlag != nil {
		if url := strings.TrimSpace(*c.nodeFlag); url != "" {
			return url
		}
	}
	if cfg, err := c.ensureConfig(); err == nil && cfg != nil {
		return cfg.Node.URL
	}
	return config.Default().Node.URL
}

func (c *commandContext) client() (*remote.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return remote.NewClient(c.nodeURL(), cfg.RequestTimeout())
}

func (c *commandContext) withClient(fn func(*remote.Client) error) error {
	client, err := c.client()
	if err != nil {
		return err
	}
	return wrapNodeError(fn(client), client.URL())
}

func wrapNodeError(err error, url string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("connect to node: %s refused the connection; start it with `conveyord`", url)
	default:
		return err
	}
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
