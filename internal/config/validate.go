package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateNode(); err != nil {
		return err
	}
	if err := c.validateArchive(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateStages(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateNode() error {
	if _, _, err := net.SplitHostPort(c.Node.Bind); err != nil {
		return fmt.Errorf("node.bind must be host:port: %w", err)
	}
	parsed, err := url.Parse(c.Node.URL)
	if err != nil {
		return fmt.Errorf("node.url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("node.url must use http or https, got %q", c.Node.URL)
	}
	if len(c.Node.AllowedHosts) == 0 {
		return errors.New("node.allowed_hosts must list at least one host")
	}
	return nil
}

func (c *Config) validateArchive() error {
	if c.Archive.MaxBytes > 0 && c.Archive.MaxBytes < int64(c.Store.MaxDocumentBytes) {
		return fmt.Errorf("archive.max_bytes (%d) must be at least store.max_document_bytes (%d)",
			c.Archive.MaxBytes, c.Store.MaxDocumentBytes)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error (got %q)", c.Logging.Level)
	}
}

func (c *Config) validateStages() error {
	for name, props := range c.Stages {
		if name == "" {
			return errors.New("stages: stage name must not be empty")
		}
		if strings.ContainsAny(name, "\".$") {
			return fmt.Errorf("stages.%s: stage name must not contain '\"', '.' or '$'", name)
		}
		kind, _ := props["type"].(string)
		if strings.TrimSpace(kind) == "" {
			return fmt.Errorf("stages.%s.type must be set", name)
		}
	}
	return nil
}
