package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// AllClasses is the advisory class sentinel of school admins ("all classes").
const AllClasses = "ทุกห้อง"

type (
	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	RedisConfig struct {
		Addr         string
		Password     string
		DB           int
		AnalyticsTTL time.Duration
	}

	StorageConfig struct {
		Driver        string // disk | oss
		DiskRoot      string
		PublicBaseURL string
		OSSEndpoint   string
		OSSKeyID      string
		OSSKeySecret  string
		OSSBucket     string
		MaxUploadSize int64
	}

	ServerConfig struct {
		Address                   string
		Host                      string
		DebugAddress              string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		AuthRateLimit             float64 // requests per second per IP on un-authed auth endpoints
		AuthRateBurst             int
	}

	Config struct {
		Env                       string
		Build                     string
		AppName                   string
		Debug                     bool
		TestMode                  bool
		WorkDir                   string
		SecretKey                 string
		FrontendBaseURL           string
		DefaultFromEmailAddr      string
		PasswordResetTimeoutDelta time.Duration
		InviteTimeoutDelta        time.Duration
		SystemAdminEmails         []string
		SystemAdminSync           bool // sync roles even when SystemAdminEmails is empty
		RollbarToken              string
		SendgridApiKey            string

		Database DatabaseConfig
		Redis    RedisConfig
		Storage  StorageConfig
		Server   ServerConfig
	}
)

func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

func (c *Config) DefaultFromEmail() mail.Address {
	return mail.Address{Name: c.AppName, Address: c.DefaultFromEmailAddr}
}

// SystemAdminWhitelist returns the whitelist logins are synced against, nil when
// the sync is off. It is off while no email is configured, unless SystemAdminSync is set.
func (c *Config) SystemAdminWhitelist() []string {
	if len(c.SystemAdminEmails) > 0 {
		return c.SystemAdminEmails
	}
	if c.SystemAdminSync {
		return []string{}
	}
	return nil
}

// NewConfig loads the configuration for the current ENV (DEV by default).
func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("build", "dev")
	v.SetDefault("appName", "PHQ Care")
	v.SetDefault("workDir", ".")
	v.SetDefault("secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("passwordResetTimeoutDelta", 1*time.Hour)
	v.SetDefault("inviteTimeoutDelta", 7*24*time.Hour)
	v.SetDefault("systemAdminEmails", "")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridApiKey", "")

	v.SetDefault("dbEngine", "postgres")
	v.SetDefault("dbHost", "localhost")
	v.SetDefault("dbPort", "5432")
	v.SetDefault("dbName", "phqcare")
	v.SetDefault("dbUser", "phqcare")
	v.SetDefault("dbPassword", "")
	v.SetDefault("dbAdminUser", "postgres")
	v.SetDefault("dbAdminPassword", "")
	v.SetDefault("dbDisableTLS", true)

	v.SetDefault("redisAddr", "")
	v.SetDefault("redisPassword", "")
	v.SetDefault("redisDB", 0)
	v.SetDefault("redisAnalyticsTTL", 5*time.Minute)

	v.SetDefault("storageDriver", "disk")
	v.SetDefault("storageDiskRoot", "uploads")
	v.SetDefault("storagePublicBaseURL", "http://localhost:8000/uploads")
	v.SetDefault("storageOSSEndpoint", "")
	v.SetDefault("storageOSSKeyID", "")
	v.SetDefault("storageOSSKeySecret", "")
	v.SetDefault("storageOSSBucket", "")
	v.SetDefault("storageMaxUploadSize", int64(10*1024*1024))

	v.SetDefault("serverAddress", ":8000")
	v.SetDefault("serverHost", "localhost")
	v.SetDefault("serverDebugAddress", "localhost:4000")
	v.SetDefault("serverShutdownTimeout", 5*time.Second)
	v.SetDefault("jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("jwtRefreshExpirationDelta", 4*time.Hour)
	v.SetDefault("authRateLimit", 1.0)
	v.SetDefault("authRateBurst", 5)
	v.SetDefault("systemAdminSync", false)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join("config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	conf := &Config{
		Env:                       env,
		Build:                     v.GetString("build"),
		AppName:                   v.GetString("appName"),
		Debug:                     v.GetBool("debug"),
		TestMode:                  v.GetBool("testMode"),
		WorkDir:                   v.GetString("workDir"),
		SecretKey:                 v.GetString("secretKey"),
		FrontendBaseURL:           strings.TrimRight(v.GetString("frontendBaseURL"), "/"),
		DefaultFromEmailAddr:      v.GetString("defaultFromEmail"),
		PasswordResetTimeoutDelta: v.GetDuration("passwordResetTimeoutDelta"),
		InviteTimeoutDelta:        v.GetDuration("inviteTimeoutDelta"),
		SystemAdminEmails:         splitList(v.GetString("systemAdminEmails")),
		SystemAdminSync:           v.GetBool("systemAdminSync"),
		RollbarToken:              v.GetString("rollbarToken"),
		SendgridApiKey:            v.GetString("sendgridApiKey"),
		Database: DatabaseConfig{
			Engine:        v.GetString("dbEngine"),
			Host:          v.GetString("dbHost"),
			Port:          v.GetString("dbPort"),
			Name:          v.GetString("dbName"),
			User:          v.GetString("dbUser"),
			Password:      v.GetString("dbPassword"),
			AdminUser:     v.GetString("dbAdminUser"),
			AdminPassword: v.GetString("dbAdminPassword"),
			DisableTLS:    v.GetBool("dbDisableTLS"),
		},
		Redis: RedisConfig{
			Addr:         v.GetString("redisAddr"),
			Password:     v.GetString("redisPassword"),
			DB:           v.GetInt("redisDB"),
			AnalyticsTTL: v.GetDuration("redisAnalyticsTTL"),
		},
		Storage: StorageConfig{
			Driver:        v.GetString("storageDriver"),
			DiskRoot:      v.GetString("storageDiskRoot"),
			PublicBaseURL: strings.TrimRight(v.GetString("storagePublicBaseURL"), "/"),
			OSSEndpoint:   v.GetString("storageOSSEndpoint"),
			OSSKeyID:      v.GetString("storageOSSKeyID"),
			OSSKeySecret:  v.GetString("storageOSSKeySecret"),
			OSSBucket:     v.GetString("storageOSSBucket"),
			MaxUploadSize: v.GetInt64("storageMaxUploadSize"),
		},
		Server: ServerConfig{
			Address:                   v.GetString("serverAddress"),
			Host:                      v.GetString("serverHost"),
			DebugAddress:              v.GetString("serverDebugAddress"),
			ShutdownTimeout:           v.GetDuration("serverShutdownTimeout"),
			JWTExpirationDelta:        v.GetDuration("jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("jwtRefreshExpirationDelta"),
			AuthRateLimit:             v.GetFloat64("authRateLimit"),
			AuthRateBurst:             v.GetInt("authRateBurst"),
		},
	}
	if conf.Env == "PROD" && conf.Debug {
		log.Printf("config: debug mode is enabled in %s", conf.Env)
	}
	return conf
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
