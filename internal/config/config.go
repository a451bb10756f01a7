package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath = "config.toml"
	DefaultHTTPAddr   = ":8080"
	DefaultPGHost     = "127.0.0.1"
	DefaultPGPort     = 5432
	DefaultPGUser     = "postgres"
	DefaultPGDatabase = "invitegate"
	DefaultPGSSLMode  = "disable"

	// InviteLinkPlaceholder is the token in the share body that gets
	// replaced with the participant's personal invite link.
	InviteLinkPlaceholder = "<INVITE_LINK>"

	DefaultCampaignHeader = "Share the channel with your classmates\nTotal Invited: %v\nRank: %v"
	DefaultShareBody      = "Join our channel for organized exam archives.\n" + InviteLinkPlaceholder + "\n\nThe link expires soon, join now."
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Telegram TelegramConfig `toml:"telegram"`
	Campaign CampaignConfig `toml:"campaign"`
	Postgres PostgresConfig `toml:"postgres"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type TelegramConfig struct {
	// BotToken is the bot credential issued by BotFather.
	BotToken string `toml:"bot_token" validate:"required"`
	// ChannelID is the gated destination channel participants are invited into.
	ChannelID int64 `toml:"channel_id" validate:"required"`
	// StaffChatID is the forum-enabled staff group where support topics live.
	StaffChatID int64 `toml:"staff_chat_id" validate:"required"`
	// JoinRequests makes issued invite links create join requests instead of
	// letting members join instantly.
	JoinRequests bool `toml:"join_requests"`
}

type CampaignConfig struct {
	// Header is a fmt template with two positional slots: total invited and
	// rank display.
	Header string `toml:"header"`
	// ShareBody is the campaign copy; InviteLinkPlaceholder inside it is
	// replaced with the issued invite link.
	ShareBody string `toml:"share_body"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Telegram: TelegramConfig{
			JoinRequests: true,
		},
		Campaign: CampaignConfig{
			Header:    DefaultCampaignHeader,
			ShareBody: DefaultShareBody,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks that the fields the bot cannot run without are set.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
