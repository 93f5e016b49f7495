// Package config handles paneld configuration using Viper.
//
// Configuration sources (in priority order):
//  1. Environment variables (PANELD_*, dots replaced by underscores)
//  2. Config file (--config, else config.{yaml,json} in /etc/paneld or the
//     user config root)
//  3. Built-in defaults
//
// The MQTT broker settings live under "mqtt_broker" so the JSON files
// deployed on existing panels keep working unchanged.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/quasar-panel/paneld/internal/paths"
)

const (
	// DefaultConsoleDevice is the panel's debug UART.
	DefaultConsoleDevice = "/dev/ttyUSB1"
	// DefaultConsoleBaud is the console line speed.
	DefaultConsoleBaud = 115200
	// DefaultConsoleTimeout bounds each console read.
	DefaultConsoleTimeout = 5 * time.Second
	// DefaultIdentityLines bounds the lines read while waiting for the identity reply.
	DefaultIdentityLines = 64
	// DefaultIdentityWaitAttempts bounds how often consumers poll for the identity file.
	DefaultIdentityWaitAttempts = 30
	// DefaultIdentityWaitInterval is the pause between identity file polls.
	DefaultIdentityWaitInterval = 2 * time.Second
	// DefaultMQTTPort is the plain MQTT port.
	DefaultMQTTPort = 1883
	// DefaultFTPPort is the FTP control port.
	DefaultFTPPort = 21
	// DefaultUploadPollInterval is how often the uploader checks its trigger.
	DefaultUploadPollInterval = 10 * time.Second
)

// DefaultUploadPatterns selects the files sent by the uploader.
var DefaultUploadPatterns = []string{"/var/log/messages*", "/var/log/paneld/*.log"}

// systemConfigDir is searched before the user config root.
var systemConfigDir = paths.SystemConfigDir

// Config holds the paneld configuration.
type Config struct {
	v *viper.Viper
}

// Load reads configuration from all sources. When file is non-empty it must
// exist and parse; otherwise a missing config file is not an error.
func Load(file string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(systemConfigDir)

		if root, err := paths.ConfigRoot(); err == nil {
			v.AddConfigPath(root)
		}
	}

	v.SetEnvPrefix("PANELD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	return &Config{v: v}, nil
}

func setDefaults(v *viper.Viper) {
	identityFile, _ := paths.IdentityFile()
	triggerFile, _ := paths.TriggerFile()

	v.SetDefault("console.device", DefaultConsoleDevice)
	v.SetDefault("console.baud", DefaultConsoleBaud)
	v.SetDefault("console.timeout", DefaultConsoleTimeout)
	v.SetDefault("console.identity_lines", DefaultIdentityLines)

	v.SetDefault("identity.file", identityFile)
	v.SetDefault("identity.wait_attempts", DefaultIdentityWaitAttempts)
	v.SetDefault("identity.wait_interval", DefaultIdentityWaitInterval)

	v.SetDefault("mqtt_broker.host", "")
	v.SetDefault("mqtt_broker.port", DefaultMQTTPort)
	v.SetDefault("mqtt_broker.user", "")
	v.SetDefault("mqtt_broker.passwd", "")
	v.SetDefault("mqtt.open_vpn_command", "")

	v.SetDefault("upload.host", "")
	v.SetDefault("upload.port", DefaultFTPPort)
	v.SetDefault("upload.user", "")
	v.SetDefault("upload.passwd", "")
	v.SetDefault("upload.remote_dir", "/")
	v.SetDefault("upload.patterns", DefaultUploadPatterns)
	v.SetDefault("upload.trigger_file", triggerFile)
	v.SetDefault("upload.poll_interval", DefaultUploadPollInterval)
	v.SetDefault("upload.delete_after", false)

	v.SetDefault("daemon.run_dir", "")
}

// Get returns a configuration value.
func (c *Config) Get(key string) interface{} {
	return c.v.Get(key)
}

// GetString returns a configuration value as string.
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt returns a configuration value as int.
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// IsKnown reports whether key has a default, a file value, or an env value.
func (c *Config) IsKnown(key string) bool {
	return c.v.IsSet(key) || c.v.InConfig(key)
}

// File returns the config file in use, or "" when running on defaults.
func (c *Config) File() string {
	return c.v.ConfigFileUsed()
}

// Set sets a configuration value and persists it to the config file in use,
// or to config.yaml in the user config root.
func (c *Config) Set(key string, value interface{}) error {
	c.v.Set(key, value)

	target := c.v.ConfigFileUsed()
	if target == "" {
		root, err := paths.ConfigRoot()
		if err != nil {
			return err
		}

		target = filepath.Join(root, "config.yaml")
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	return c.v.WriteConfigAs(target)
}

// All returns all configuration as a map.
func (c *Config) All() map[string]interface{} {
	return c.v.AllSettings()
}

// ConsoleDevice returns the serial device path of the panel console.
func (c *Config) ConsoleDevice() string {
	return c.GetString("console.device")
}

// ConsoleBaud returns the console baud rate.
func (c *Config) ConsoleBaud() int {
	return c.GetInt("console.baud")
}

// ConsoleTimeout returns the per-read console timeout.
func (c *Config) ConsoleTimeout() time.Duration {
	return c.v.GetDuration("console.timeout")
}

// IdentityLines returns the bound on lines read while awaiting the identity.
func (c *Config) IdentityLines() int {
	return c.GetInt("console.identity_lines")
}

// IdentityFile returns where the panel identity is persisted.
func (c *Config) IdentityFile() string {
	return c.GetString("identity.file")
}

// IdentityWaitAttempts returns how many times consumers poll for the identity.
func (c *Config) IdentityWaitAttempts() int {
	return c.GetInt("identity.wait_attempts")
}

// IdentityWaitInterval returns the pause between identity polls.
func (c *Config) IdentityWaitInterval() time.Duration {
	return c.v.GetDuration("identity.wait_interval")
}

// MQTTHost returns the broker host.
func (c *Config) MQTTHost() string {
	return c.GetString("mqtt_broker.host")
}

// MQTTPort returns the broker port.
func (c *Config) MQTTPort() int {
	return c.GetInt("mqtt_broker.port")
}

// MQTTUser returns the broker user name.
func (c *Config) MQTTUser() string {
	return c.GetString("mqtt_broker.user")
}

// MQTTPassword returns the broker password.
func (c *Config) MQTTPassword() string {
	return c.GetString("mqtt_broker.passwd")
}

// OpenVPNCommand returns the argv run for the open_vpn command, if any.
func (c *Config) OpenVPNCommand() []string {
	return strings.Fields(c.GetString("mqtt.open_vpn_command"))
}

// UploadHost returns the FTP server host.
func (c *Config) UploadHost() string {
	return c.GetString("upload.host")
}

// UploadPort returns the FTP server port.
func (c *Config) UploadPort() int {
	return c.GetInt("upload.port")
}

// UploadUser returns the FTP user name.
func (c *Config) UploadUser() string {
	return c.GetString("upload.user")
}

// UploadPassword returns the FTP password.
func (c *Config) UploadPassword() string {
	return c.GetString("upload.passwd")
}

// UploadRemoteDir returns the remote base directory for uploads.
func (c *Config) UploadRemoteDir() string {
	return c.GetString("upload.remote_dir")
}

// UploadPatterns returns the glob patterns of files to upload.
func (c *Config) UploadPatterns() []string {
	return c.v.GetStringSlice("upload.patterns")
}

// TriggerFile returns the path whose presence requests a log upload.
func (c *Config) TriggerFile() string {
	return c.GetString("upload.trigger_file")
}

// UploadPollInterval returns how often the uploader checks the trigger.
func (c *Config) UploadPollInterval() time.Duration {
	return c.v.GetDuration("upload.poll_interval")
}

// UploadDeleteAfter reports whether uploaded files are removed locally.
func (c *Config) UploadDeleteAfter() bool {
	return c.v.GetBool("upload.delete_after")
}

// RunDir returns the configured pid file directory, "" for the default.
func (c *Config) RunDir() string {
	return c.GetString("daemon.run_dir")
}
