/*
Copyright © 2025 Jayson Grace <jayson.e.grace@gmail.com>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/

// Package config loads the foundry configuration: logging, poll budgets,
// provider defaults, and the warehouse, event bus and metrics endpoints.
//
// Precedence is CLI flags > FOUNDRY_* environment variables > config file >
// defaults. Credentials for pushes are never read from the config file; they
// arrive as opaque blobs with each push request.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides (FOUNDRY_AWS_REGION, ...).
const EnvPrefix = "FOUNDRY"

// Config is the process configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Poll      PollConfig      `mapstructure:"poll"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	AWS       AWSConfig       `mapstructure:"aws"`
	OpenStack OpenStackConfig `mapstructure:"openstack"`
	Warehouse WarehouseConfig `mapstructure:"warehouse"`
	Events    EventsConfig    `mapstructure:"events"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// PollPolicy is one bounded poll loop: a fixed interval and an attempt ceiling.
type PollPolicy struct {
	Interval time.Duration `mapstructure:"interval"`
	Attempts int           `mapstructure:"attempts"`
}

// Budget is the longest the loop can wait.
func (p PollPolicy) Budget() time.Duration {
	return p.Interval * time.Duration(p.Attempts)
}

// PollConfig holds the budgets of every provisioning poll loop.
type PollConfig struct {
	Instance PollPolicy `mapstructure:"instance"`
	Remote   PollPolicy `mapstructure:"remote"`
	Image    PollPolicy `mapstructure:"image"`
	Volume   PollPolicy `mapstructure:"volume"`
	Snapshot PollPolicy `mapstructure:"snapshot"`
}

// JobsConfig controls how the CLI runs jobs.
type JobsConfig struct {
	// MaxParallel bounds how many jobs one command waits on at once.
	MaxParallel int `mapstructure:"max_parallel"`
	// TeardownTimeout bounds the whole teardown phase of one operation.
	TeardownTimeout time.Duration `mapstructure:"teardown_timeout"`
}

// AWSConfig holds EC2 provider defaults.
type AWSConfig struct {
	Region       string `mapstructure:"region"`
	Profile      string `mapstructure:"profile"`
	InstanceType string `mapstructure:"instance_type"`
	SSHUser      string `mapstructure:"ssh_user"`
	SSHCIDR      string `mapstructure:"ssh_cidr"`
	// VolumeSizeGiB enables the volume/snapshot push flow when positive.
	VolumeSizeGiB int    `mapstructure:"volume_size_gib"`
	VolumeDevice  string `mapstructure:"volume_device"`
	// BaseImages maps "<family>-<version>-<arch>" (lower case) to an AMI id.
	BaseImages map[string]string `mapstructure:"base_images"`
}

// OpenStackConfig holds OpenStack provider defaults.
type OpenStackConfig struct {
	AuthURL    string            `mapstructure:"auth_url"`
	Username   string            `mapstructure:"username"`
	Password   string            `mapstructure:"password"`
	Domain     string            `mapstructure:"domain"`
	Tenant     string            `mapstructure:"tenant"`
	Region     string            `mapstructure:"region"`
	Flavor     string            `mapstructure:"flavor"`
	Network    string            `mapstructure:"network"`
	SSHUser    string            `mapstructure:"ssh_user"`
	SSHCIDR    string            `mapstructure:"ssh_cidr"`
	BaseImages map[string]string `mapstructure:"base_images"`
	// LockTimeout bounds how long a call waits for the shared connection.
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
}

// WarehouseConfig selects and configures the image metadata store.
type WarehouseConfig struct {
	Driver    string `mapstructure:"driver"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// EventsConfig selects the event bus.
type EventsConfig struct {
	Driver  string `mapstructure:"driver"`
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// MetricsConfig holds the optional Prometheus listener.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load reads config.yaml from the standard search path. A missing file is
// not an error; defaults and environment overrides still apply.
func Load() (*Config, error) {
	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, dir := range ConfigDirs() {
		v.AddConfigPath(dir)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific file path.
func LoadFromPath(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return unmarshal(v)
}

// Default returns the configuration produced by defaults alone.
func Default() *Config {
	cfg, err := unmarshal(newBareViper())
	if err != nil {
		// Defaults are static; failing to decode them is a programming error.
		panic(err)
	}
	return cfg
}

func newBareViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func newViper() *viper.Viper {
	v := newBareViper()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvVars(v)
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "color")

	v.SetDefault("poll.instance.interval", "10s")
	v.SetDefault("poll.instance.attempts", 30)
	v.SetDefault("poll.remote.interval", "10s")
	v.SetDefault("poll.remote.attempts", 30)
	v.SetDefault("poll.image.interval", "10s")
	v.SetDefault("poll.image.attempts", 120)
	v.SetDefault("poll.volume.interval", "5s")
	v.SetDefault("poll.volume.attempts", 60)
	v.SetDefault("poll.snapshot.interval", "10s")
	v.SetDefault("poll.snapshot.attempts", 120)

	v.SetDefault("jobs.max_parallel", 4)
	v.SetDefault("jobs.teardown_timeout", "5m")

	v.SetDefault("aws.region", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("aws.instance_type", "t3.medium")
	v.SetDefault("aws.ssh_user", "")
	v.SetDefault("aws.ssh_cidr", "0.0.0.0/0")
	v.SetDefault("aws.volume_size_gib", 0)
	v.SetDefault("aws.volume_device", "/dev/sdf")
	v.SetDefault("aws.base_images", map[string]string{})

	v.SetDefault("openstack.auth_url", "")
	v.SetDefault("openstack.username", "")
	v.SetDefault("openstack.password", "")
	v.SetDefault("openstack.domain", "Default")
	v.SetDefault("openstack.tenant", "")
	v.SetDefault("openstack.region", "")
	v.SetDefault("openstack.flavor", "m1.small")
	v.SetDefault("openstack.network", "")
	v.SetDefault("openstack.ssh_user", "")
	v.SetDefault("openstack.ssh_cidr", "0.0.0.0/0")
	v.SetDefault("openstack.base_images", map[string]string{})
	v.SetDefault("openstack.lock_timeout", "2m")

	v.SetDefault("warehouse.driver", "memory")
	v.SetDefault("warehouse.endpoint", "")
	v.SetDefault("warehouse.region", "us-east-1")
	v.SetDefault("warehouse.bucket", "foundry")
	v.SetDefault("warehouse.access_key", "")
	v.SetDefault("warehouse.secret_key", "")

	v.SetDefault("events.driver", "log")
	v.SetDefault("events.url", "nats://127.0.0.1:4222")
	v.SetDefault("events.subject", "foundry.jobs")

	v.SetDefault("metrics.addr", "")
}

// bindEnvVars binds the variables whose names do not follow the
// FOUNDRY_<SECTION>_<KEY> scheme.
func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("aws.region", "FOUNDRY_AWS_REGION", "AWS_REGION", "AWS_DEFAULT_REGION")
	_ = v.BindEnv("aws.profile", "FOUNDRY_AWS_PROFILE", "AWS_PROFILE")
	_ = v.BindEnv("openstack.auth_url", "FOUNDRY_OPENSTACK_AUTH_URL", "OS_AUTH_URL")
	_ = v.BindEnv("openstack.username", "FOUNDRY_OPENSTACK_USERNAME", "OS_USERNAME")
	_ = v.BindEnv("openstack.password", "FOUNDRY_OPENSTACK_PASSWORD", "OS_PASSWORD")
	_ = v.BindEnv("openstack.tenant", "FOUNDRY_OPENSTACK_TENANT", "OS_PROJECT_NAME", "OS_TENANT_NAME")
	_ = v.BindEnv("openstack.region", "FOUNDRY_OPENSTACK_REGION", "OS_REGION_NAME")
	_ = v.BindEnv("events.url", "FOUNDRY_EVENTS_URL", "NATS_URL")
}

// Validate rejects settings that would make a poll loop unbounded or
// select an unknown backend.
func (c *Config) Validate() error {
	policies := map[string]PollPolicy{
		"instance": c.Poll.Instance,
		"remote":   c.Poll.Remote,
		"image":    c.Poll.Image,
		"volume":   c.Poll.Volume,
		"snapshot": c.Poll.Snapshot,
	}
	for name, p := range policies {
		if p.Interval <= 0 || p.Attempts <= 0 {
			return fmt.Errorf("poll.%s: interval and attempts must be positive (got %s, %d)", name, p.Interval, p.Attempts)
		}
	}

	switch c.Warehouse.Driver {
	case "memory":
	case "s3":
		if c.Warehouse.Bucket == "" {
			return errors.New("warehouse.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("unknown warehouse driver %q (supported: memory, s3)", c.Warehouse.Driver)
	}

	switch c.Events.Driver {
	case "log", "none":
	case "nats":
		if c.Events.URL == "" {
			return errors.New("events.url is required for the nats driver")
		}
	default:
		return fmt.Errorf("unknown events driver %q (supported: log, nats, none)", c.Events.Driver)
	}

	if c.Jobs.MaxParallel < 1 {
		return fmt.Errorf("jobs.max_parallel must be at least 1 (got %d)", c.Jobs.MaxParallel)
	}
	return nil
}

// BaseImage looks up a base image id for family/version/arch in table.
// Keys are matched case-insensitively because viper lower-cases map keys.
func BaseImage(table map[string]string, family, version, arch string) (string, bool) {
	key := strings.ToLower(fmt.Sprintf("%s-%s-%s", family, version, arch))
	id, ok := table[key]
	return id, ok && id != ""
}
