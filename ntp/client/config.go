/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package client

import (
	"fmt"
	"os"
	"time"

	"github.com/facebook/ntpclient/dscp"
	log "github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v2"
)

// Defaults
const (
	DefaultServer       = "pool.ntp.org"
	DefaultPort         = 123
	DefaultLocalPort    = 2390
	DefaultTimeout      = 1000 * time.Millisecond
	DefaultPollInterval = time.Millisecond
)

// Config specifies Client run options
type Config struct {
	// hostname or address of NTP server
	Server string
	// destination UDP port
	Port int
	// local UDP port the client binds to on first request
	LocalPort int
	// how long we wait for reply after request is sent
	Timeout time.Duration
	// pause between checks for a received datagram, 0 means busy polling
	PollInterval time.Duration
	// DSCP for outgoing requests
	DSCP int
	// send random transmit timestamp and accept only replies which echo it back as origin
	VerifyOrigin bool
}

// DefaultConfig returns Config initialized with default values
func DefaultConfig() *Config {
	return &Config{
		Server:       DefaultServer,
		Port:         DefaultPort,
		LocalPort:    DefaultLocalPort,
		Timeout:      DefaultTimeout,
		PollInterval: DefaultPollInterval,
	}
}

// Validate config is sane
func (c *Config) Validate() error {
	if c.Server == "" {
		return fmt.Errorf("server must be specified")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if c.LocalPort < 0 || c.LocalPort > 65535 {
		return fmt.Errorf("localport must be between 0 and 65535")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be greater than zero")
	}
	if c.PollInterval < 0 || c.PollInterval > c.Timeout {
		return fmt.Errorf("pollinterval must be 0 or positive but not greater than timeout")
	}
	if c.DSCP < 0 || c.DSCP > dscp.Max {
		return fmt.Errorf("dscp must be between 0 and %d", dscp.Max)
	}
	return nil
}

// ReadConfig reads config from the file
func ReadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	cData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	err = yaml.Unmarshal(cData, &c)
	if err != nil {
		return nil, err
	}

	return c, nil
}

// Overrides holds values passed via CLI flags
type Overrides struct {
	Server       string
	Port         int
	LocalPort    int
	Timeout      time.Duration
	PollInterval time.Duration
	DSCP         int
	VerifyOrigin bool
}

// PrepareConfig prepares final version of config based on defaults, CLI flags and on-disk config, and validates resulting config.
// Only flags present in setFlags override values from the config file.
func PrepareConfig(cfgPath string, o *Overrides, setFlags map[string]bool) (*Config, error) {
	cfg := DefaultConfig()
	var err error
	warn := func(name string) {
		log.Warningf("overriding %s from CLI flag", name)
	}
	if cfgPath != "" {
		cfg, err = ReadConfig(cfgPath)
		if err != nil {
			return nil, fmt.Errorf("reading config from %q: %w", cfgPath, err)
		}
	}
	if setFlags["server"] {
		warn("server")
		cfg.Server = o.Server
	}
	if setFlags["port"] {
		warn("port")
		cfg.Port = o.Port
	}
	if setFlags["localport"] {
		warn("localport")
		cfg.LocalPort = o.LocalPort
	}
	if setFlags["timeout"] {
		warn("timeout")
		cfg.Timeout = o.Timeout
	}
	if setFlags["pollinterval"] {
		warn("pollinterval")
		cfg.PollInterval = o.PollInterval
	}
	if setFlags["dscp"] {
		warn("dscp")
		cfg.DSCP = o.DSCP
	}
	if setFlags["verifyorigin"] {
		warn("verifyorigin")
		cfg.VerifyOrigin = o.VerifyOrigin
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}
