package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
// Values are read by viper from a config file, environment variables and
// command line flags, in increasing priority.
type Config struct {
	FeedID   string `mapstructure:"feed_id"`
	LogLevel string `mapstructure:"log_level"`
	LogDir   string `mapstructure:"log_dir"`

	Intervals  IntervalConfig   `mapstructure:"intervals"`
	Feed       FeedConfig       `mapstructure:"feed"`
	Producer   ProducerConfig   `mapstructure:"producer"`
	Screenshot ScreenshotConfig `mapstructure:"screenshot"`
	Storage    StorageConfig    `mapstructure:"storage"`

	Mail     MailConfig     `mapstructure:"mail"`
	Slack    SlackConfig    `mapstructure:"slack"`
	QQ       QQConfig       `mapstructure:"qq"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Discord  DiscordConfig  `mapstructure:"discord"`
}

type IntervalConfig struct {
	Producer   time.Duration `mapstructure:"producer"`
	Screenshot time.Duration `mapstructure:"screenshot"`
	Delivery   time.Duration `mapstructure:"delivery"`
}

type FeedConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	TitleSuffix string        `mapstructure:"title_suffix"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type ProducerConfig struct {
	MaxKept int `mapstructure:"max_kept"`
}

type ScreenshotConfig struct {
	BrowserBin  string        `mapstructure:"browser_bin"`
	PageTimeout time.Duration `mapstructure:"page_timeout"`
	SettleDelay time.Duration `mapstructure:"settle_delay"`
	// Captures are archived to S3 when S3Bucket is set.
	S3Bucket   string `mapstructure:"s3_bucket"`
	S3Prefix   string `mapstructure:"s3_prefix"`
	S3Endpoint string `mapstructure:"s3_endpoint"`
	S3Region   string `mapstructure:"s3_region"`
}

// StorageConfig enables the delivery history when Path is set.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

type MailConfig struct {
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	Username    string   `mapstructure:"username"`
	Password    string   `mapstructure:"password"`
	From        string   `mapstructure:"from"`
	Subscribers []string `mapstructure:"subscribers"`
	Admin       string   `mapstructure:"admin"`
}

type SlackConfig struct {
	Token         string `mapstructure:"token"`
	NotifyChannel string `mapstructure:"notify_channel"`
	StatusChannel string `mapstructure:"status_channel"`
}

type QQConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	AccessToken string `mapstructure:"access_token"`
	GroupID     int64  `mapstructure:"group_id"`
	AdminID     int64  `mapstructure:"admin_id"`
	// Account labels status messages.
	Account string `mapstructure:"account"`
}

type TelegramConfig struct {
	Token       string `mapstructure:"token"`
	ChatID      int64  `mapstructure:"chat_id"`
	AdminChatID int64  `mapstructure:"admin_chat_id"`
}

// DiscordConfig enables the Discord status notifier when Token is set.
type DiscordConfig struct {
	Token     string `mapstructure:"token"`
	ChannelID string `mapstructure:"channel_id"`
}

// Default values, also used as flag defaults.
const (
	DefaultFeedID             = "2227798650"
	DefaultLogLevel           = "info"
	DefaultLogDir             = "logs"
	DefaultProducerInterval   = 60 * time.Second
	DefaultScreenshotInterval = 5 * time.Second
	DefaultDeliveryInterval   = 10 * time.Second
)

// Flag names bound onto config keys.
var flagKeys = map[string]string{
	"feed-id":   "feed_id",
	"log-level": "log_level",
	"log-dir":   "log_dir",
	"interval":  "intervals.producer",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("feed_id", DefaultFeedID)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("log_dir", DefaultLogDir)

	v.SetDefault("intervals.producer", DefaultProducerInterval)
	v.SetDefault("intervals.screenshot", DefaultScreenshotInterval)
	v.SetDefault("intervals.delivery", DefaultDeliveryInterval)

	v.SetDefault("feed.base_url", "https://rsshub.app")
	v.SetDefault("feed.title_suffix", " 的雪球全部动态")
	v.SetDefault("feed.timeout", 30*time.Second)

	v.SetDefault("producer.max_kept", 255)

	v.SetDefault("screenshot.browser_bin", "")
	v.SetDefault("screenshot.page_timeout", 60*time.Second)
	v.SetDefault("screenshot.settle_delay", time.Second)
	v.SetDefault("screenshot.s3_bucket", "")
	v.SetDefault("screenshot.s3_prefix", "screenshots")
	v.SetDefault("screenshot.s3_endpoint", "")
	v.SetDefault("screenshot.s3_region", "")

	v.SetDefault("storage.path", "")

	// Every key needs a default so AutomaticEnv can see it on Unmarshal.
	v.SetDefault("mail.host", "smtp.qq.com")
	v.SetDefault("mail.port", 465)
	v.SetDefault("mail.username", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.from", "")
	v.SetDefault("mail.subscribers", []string{})
	v.SetDefault("mail.admin", "")

	v.SetDefault("slack.token", "")
	v.SetDefault("slack.notify_channel", "")
	v.SetDefault("slack.status_channel", "")

	v.SetDefault("qq.endpoint", "http://127.0.0.1:5700")
	v.SetDefault("qq.access_token", "")
	v.SetDefault("qq.group_id", 0)
	v.SetDefault("qq.admin_id", 0)
	v.SetDefault("qq.account", "")

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", 0)
	v.SetDefault("telegram.admin_chat_id", 0)

	v.SetDefault("discord.token", "")
	v.SetDefault("discord.channel_id", "")
}

// LoadConfig reads configuration from path/config.yaml, environment
// variables (SNOWBALL_ prefix, dots replaced by underscores) and flags.
// flags may be nil.
func LoadConfig(path string, flags *pflag.FlagSet) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("SNOWBALL")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err = v.ReadInConfig(); err != nil {
		// A missing file is fine, env vars and flags may carry everything.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err = v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err = config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// Validate checks the settings shared by every channel.
func (c Config) Validate() error {
	var errs []error
	if c.FeedID == "" {
		errs = append(errs, errors.New("feed_id is not set"))
	}
	if c.Intervals.Producer <= 0 || c.Intervals.Screenshot <= 0 || c.Intervals.Delivery <= 0 {
		errs = append(errs, errors.New("intervals must be positive"))
	}
	if c.Producer.MaxKept < 2 {
		errs = append(errs, errors.New("producer.max_kept must be at least 2"))
	}
	if c.Discord.Token != "" && c.Discord.ChannelID == "" {
		errs = append(errs, errors.New("discord.channel_id is not set"))
	}
	return errors.Join(errs...)
}

// ValidateMail checks the settings the email channel needs.
func (c Config) ValidateMail() error {
	var errs []error
	if c.Mail.Host == "" {
		errs = append(errs, errors.New("mail.host is not set"))
	}
	if c.Mail.Username == "" || c.Mail.Password == "" {
		errs = append(errs, errors.New("mail.username and mail.password are required"))
	}
	if len(c.Mail.Subscribers) == 0 {
		errs = append(errs, errors.New("mail.subscribers is empty"))
	}
	if c.Mail.Admin == "" {
		errs = append(errs, errors.New("mail.admin is not set"))
	}
	return errors.Join(errs...)
}

// ValidateSlack checks the settings the Slack channel needs.
func (c Config) ValidateSlack() error {
	var errs []error
	if c.Slack.Token == "" {
		errs = append(errs, errors.New("slack.token is not set"))
	}
	if c.Slack.NotifyChannel == "" {
		errs = append(errs, errors.New("slack.notify_channel is not set"))
	}
	return errors.Join(errs...)
}

// ValidateQQ checks the settings the QQ channel needs.
func (c Config) ValidateQQ() error {
	var errs []error
	if c.QQ.Endpoint == "" {
		errs = append(errs, errors.New("qq.endpoint is not set"))
	}
	if c.QQ.GroupID == 0 {
		errs = append(errs, errors.New("qq.group_id is not set"))
	}
	if c.QQ.AdminID == 0 && c.Discord.Token == "" {
		errs = append(errs, errors.New("qq.admin_id or discord.token is required for status reports"))
	}
	return errors.Join(errs...)
}

// ValidateTelegram checks the settings the Telegram channel needs.
func (c Config) ValidateTelegram() error {
	var errs []error
	if c.Telegram.Token == "" {
		errs = append(errs, errors.New("telegram.token is not set"))
	}
	if c.Telegram.ChatID == 0 {
		errs = append(errs, errors.New("telegram.chat_id is not set"))
	}
	if c.Telegram.AdminChatID == 0 && c.Discord.Token == "" {
		errs = append(errs, errors.New("telegram.admin_chat_id or discord.token is required for status reports"))
	}
	return errors.Join(errs...)
}
