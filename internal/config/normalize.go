package config

import (
	"fmt"
	"os"
	"strings"
)

const (
	envNodeURL      = "CONVEYOR_NODE_URL"
	envNodeBind     = "CONVEYOR_NODE_BIND"
	envDataDir      = "CONVEYOR_DATA_DIR"
	envLogLevel     = "CONVEYOR_LOG_LEVEL"
	envAllowedHosts = "CONVEYOR_ALLOWED_HOSTS"
)

func (c *Config) normalize() error {
	c.applyEnv()
	if err := c.normalizeStore(); err != nil {
		return err
	}
	c.normalizeNode()
	c.normalizeWorker()
	if c.Status.FlushIntervalMS <= 0 {
		c.Status.FlushIntervalMS = defaultStatusFlushMS
	}
	if err := c.normalizeLogging(); err != nil {
		return err
	}
	c.normalizeStages()
	return nil
}

func (c *Config) applyEnv() {
	if value, ok := lookupEnv(envNodeURL); ok {
		c.Node.URL = value
	}
	if value, ok := lookupEnv(envNodeBind); ok {
		c.Node.Bind = value
	}
	if value, ok := lookupEnv(envDataDir); ok {
		c.Store.DataDir = value
	}
	if value, ok := lookupEnv(envLogLevel); ok {
		c.Logging.Level = value
	}
	if value, ok := lookupEnv(envAllowedHosts); ok {
		c.Node.AllowedHosts = strings.Split(value, ",")
	}
}

func lookupEnv(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func (c *Config) normalizeStore() error {
	var err error
	if strings.TrimSpace(c.Store.DataDir) == "" {
		c.Store.DataDir = defaultDataDir
	}
	if c.Store.DataDir, err = expandPath(c.Store.DataDir); err != nil {
		return fmt.Errorf("store.data_dir: %w", err)
	}
	if c.Store.MaxDocumentBytes <= 0 {
		c.Store.MaxDocumentBytes = defaultMaxDocumentBytes
	}
	if c.Store.TailPollIntervalMS <= 0 {
		c.Store.TailPollIntervalMS = defaultTailPollIntervalMS
	}
	if c.Store.TailPollAttempts <= 0 {
		c.Store.TailPollAttempts = defaultTailPollAttempts
	}
	return nil
}

func (c *Config) normalizeNode() {
	c.Node.Bind = strings.TrimSpace(c.Node.Bind)
	if c.Node.Bind == "" {
		c.Node.Bind = defaultNodeBind
	}
	c.Node.URL = strings.TrimRight(strings.TrimSpace(c.Node.URL), "/")
	if c.Node.URL == "" {
		c.Node.URL = defaultNodeURL
	}
	if c.Node.RequestTimeoutMS <= 0 {
		c.Node.RequestTimeoutMS = defaultRequestTimeoutMS
	}
	hosts := make([]string, 0, len(c.Node.AllowedHosts))
	seen := make(map[string]struct{}, len(c.Node.AllowedHosts))
	for _, host := range c.Node.AllowedHosts {
		normalized := strings.ToLower(strings.TrimSpace(host))
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		hosts = append(hosts, normalized)
	}
	c.Node.AllowedHosts = hosts
}

func (c *Config) normalizeWorker() {
	if c.Worker.HoldIntervalMS <= 0 {
		c.Worker.HoldIntervalMS = defaultHoldIntervalMS
	}
	if c.Worker.ShutdownTimeoutMS <= 0 {
		c.Worker.ShutdownTimeoutMS = defaultShutdownTimeoutMS
	}
	if c.Worker.RecurringIntervalMS <= 0 {
		c.Worker.RecurringIntervalMS = defaultRecurringIntervalMS
	}
	if c.Worker.MaxConsecutiveErrors <= 0 {
		c.Worker.MaxConsecutiveErrors = defaultMaxConsecutiveErrors
	}
	if c.Worker.ErrorBackoffMS <= 0 {
		c.Worker.ErrorBackoffMS = defaultErrorBackoffMS
	}
}

func (c *Config) normalizeLogging() error {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	var err error
	if c.Logging.File, err = expandPath(strings.TrimSpace(c.Logging.File)); err != nil {
		return fmt.Errorf("logging.file: %w", err)
	}
	return nil
}

func (c *Config) normalizeStages() {
	if c.Stages == nil {
		c.Stages = map[string]StageProperties{}
	}
	normalized := make(map[string]StageProperties, len(c.Stages))
	for name, props := range c.Stages {
		trimmed := strings.TrimSpace(name)
		if props == nil {
			props = StageProperties{}
		}
		normalized[trimmed] = props
	}
	c.Stages = normalized
}
