package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Host                      string
		Address                   string
		DebugHost                 string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		RateLimitRPS              float64
		RateLimitBurst            int
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	RedisConfig struct {
		Address  string // empty disables redis
		Password string
		DB       int
	}

	StorageConfig struct {
		Backend   string // s3 | minio | memory
		Bucket    string
		Region    string
		Endpoint  string
		AccessKey string
		SecretKey string
		UseSSL    bool
		Prefix    string
	}

	SMSConfig struct {
		Backend    string // twilio | console
		AccountSID string
		AuthToken  string
		From       string
	}

	SchedulerConfig struct {
		Embedded             bool // run the workers inside the API process
		ReminderPollInterval time.Duration
		ReminderBatchSize    int
		UsageResetInterval   time.Duration
		QuietHoursStart      string // "HH:MM", empty disables quiet hours
		QuietHoursEnd        string
	}

	Config struct {
		AppName                   string
		Build                     string
		Env                       string
		Debug                     bool
		TestMode                  bool
		WorkDir                   string
		SecretKey                 string
		FrontendBaseURL           string
		SendgridAPIKey            string
		RollbarToken              string
		PasswordResetTimeoutDelta time.Duration

		defaultFromEmail string

		Server    ServerConfig
		Database  DatabaseConfig
		Redis     RedisConfig
		Storage   StorageConfig
		SMS       SMSConfig
		Scheduler SchedulerConfig
	}
)

// NewConfig reads the configuration for the current environment.
// ENV selects the environment: DEV (default), TEST, QA, PROD.
// Values come from <ENV>_<KEY> environment variables, optionally preloaded from config/.env.<env>.
func NewConfig() *Config {
	v := viper.New()
	v.SetTypeByDefaultValue(true)

	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}
	wd := Getwd()

	v.SetDefault("debug", env == "DEV" || env == "TEST")
	v.SetDefault("testMode", env == "TEST")
	v.SetDefault("appName", "FieldOps")
	v.SetDefault("build", "develop")
	v.SetDefault("secretKey", "w9*c4t_k#2m!z@e0v$u1f^lq)8p(rj3n7x5o+ay6sgdhbi")
	v.SetDefault("defaultFromEmail", "FieldOps <noreply@localhost>")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("passwordResetTimeoutDelta", 3*24*time.Hour)

	v.SetDefault("serverHost", "localhost")
	v.SetDefault("serverAddress", ":8000")
	v.SetDefault("debugHost", ":4000")
	v.SetDefault("shutdownTimeout", 10*time.Second)
	v.SetDefault("jwtExpirationDelta", 4*time.Hour)
	v.SetDefault("jwtRefreshExpirationDelta", 7*24*time.Hour)
	v.SetDefault("rateLimitRPS", 5.0)
	v.SetDefault("rateLimitBurst", 10)

	v.SetDefault("dbEngine", "postgres")
	v.SetDefault("dbHost", "localhost")
	v.SetDefault("dbPort", 5432)
	v.SetDefault("dbName", "fieldops")
	v.SetDefault("dbUser", "fieldops")
	v.SetDefault("dbPassword", "fieldops")
	v.SetDefault("dbAdminUser", "postgres")
	v.SetDefault("dbAdminPassword", "postgres")
	v.SetDefault("dbDisableTLS", true)

	v.SetDefault("redisAddress", "")
	v.SetDefault("redisPassword", "")
	v.SetDefault("redisDB", 0)

	v.SetDefault("storageBackend", "memory")
	v.SetDefault("storageBucket", "fieldops")
	v.SetDefault("storageRegion", "us-east-1")
	v.SetDefault("storageEndpoint", "")
	v.SetDefault("storageAccessKey", "")
	v.SetDefault("storageSecretKey", "")
	v.SetDefault("storageUseSSL", true)
	v.SetDefault("storagePrefix", "")

	v.SetDefault("smsBackend", "console")
	v.SetDefault("smsAccountSID", "")
	v.SetDefault("smsAuthToken", "")
	v.SetDefault("smsFrom", "")

	v.SetDefault("schedulerEmbedded", true)
	v.SetDefault("reminderPollInterval", 30*time.Second)
	v.SetDefault("reminderBatchSize", 100)
	v.SetDefault("usageResetInterval", 15*time.Minute)
	v.SetDefault("quietHoursStart", "22:00")
	v.SetDefault("quietHoursEnd", "07:00")

	v.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	return &Config{
		AppName:                   v.GetString("appName"),
		Build:                     v.GetString("build"),
		Env:                       env,
		Debug:                     v.GetBool("debug"),
		TestMode:                  v.GetBool("testMode"),
		WorkDir:                   wd,
		SecretKey:                 v.GetString("secretKey"),
		FrontendBaseURL:           strings.TrimRight(v.GetString("frontendBaseURL"), "/"),
		SendgridAPIKey:            v.GetString("sendgridAPIKey"),
		RollbarToken:              v.GetString("rollbarToken"),
		PasswordResetTimeoutDelta: v.GetDuration("passwordResetTimeoutDelta"),
		defaultFromEmail:          v.GetString("defaultFromEmail"),
		Server: ServerConfig{
			Host:                      v.GetString("serverHost"),
			Address:                   v.GetString("serverAddress"),
			DebugHost:                 v.GetString("debugHost"),
			ShutdownTimeout:           v.GetDuration("shutdownTimeout"),
			JWTExpirationDelta:        v.GetDuration("jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("jwtRefreshExpirationDelta"),
			RateLimitRPS:              v.GetFloat64("rateLimitRPS"),
			RateLimitBurst:            v.GetInt("rateLimitBurst"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("dbEngine"),
			Host:          v.GetString("dbHost"),
			Port:          v.GetInt("dbPort"),
			Name:          v.GetString("dbName"),
			User:          v.GetString("dbUser"),
			Password:      v.GetString("dbPassword"),
			AdminUser:     v.GetString("dbAdminUser"),
			AdminPassword: v.GetString("dbAdminPassword"),
			DisableTLS:    v.GetBool("dbDisableTLS"),
		},
		Redis: RedisConfig{
			Address:  v.GetString("redisAddress"),
			Password: v.GetString("redisPassword"),
			DB:       v.GetInt("redisDB"),
		},
		Storage: StorageConfig{
			Backend:   strings.ToLower(v.GetString("storageBackend")),
			Bucket:    v.GetString("storageBucket"),
			Region:    v.GetString("storageRegion"),
			Endpoint:  v.GetString("storageEndpoint"),
			AccessKey: v.GetString("storageAccessKey"),
			SecretKey: v.GetString("storageSecretKey"),
			UseSSL:    v.GetBool("storageUseSSL"),
			Prefix:    v.GetString("storagePrefix"),
		},
		SMS: SMSConfig{
			Backend:    strings.ToLower(v.GetString("smsBackend")),
			AccountSID: v.GetString("smsAccountSID"),
			AuthToken:  v.GetString("smsAuthToken"),
			From:       v.GetString("smsFrom"),
		},
		Scheduler: SchedulerConfig{
			Embedded:             v.GetBool("schedulerEmbedded"),
			ReminderPollInterval: v.GetDuration("reminderPollInterval"),
			ReminderBatchSize:    v.GetInt("reminderBatchSize"),
			UsageResetInterval:   v.GetDuration("usageResetInterval"),
			QuietHoursStart:      v.GetString("quietHoursStart"),
			QuietHoursEnd:        v.GetString("quietHoursEnd"),
		},
	}
}

// NewTestConfig returns a Config suitable for tests; it never reads the environment.
func NewTestConfig() *Config {
	return &Config{
		AppName:                   "FieldOps",
		Build:                     "test",
		Env:                       "TEST",
		Debug:                     false,
		TestMode:                  true,
		WorkDir:                   Getwd(),
		SecretKey:                 "secret",
		FrontendBaseURL:           "http://localhost:3000",
		PasswordResetTimeoutDelta: 3 * 24 * time.Hour,
		defaultFromEmail:          "FieldOps <noreply@localhost>",
		Server: ServerConfig{
			Host:                      "localhost",
			ShutdownTimeout:           time.Second,
			JWTExpirationDelta:        10 * time.Minute,
			JWTRefreshExpirationDelta: 4 * time.Hour,
			RateLimitRPS:              1000,
			RateLimitBurst:            1000,
		},
		Storage:   StorageConfig{Backend: "memory", Bucket: "test"},
		SMS:       SMSConfig{Backend: "console"},
		Scheduler: SchedulerConfig{ReminderBatchSize: 100},
	}
}

func (c *Config) DefaultFromEmail() mail.Address {
	addr, err := mail.ParseAddress(c.defaultFromEmail)
	if err != nil {
		return mail.Address{Name: c.AppName, Address: "noreply@localhost"}
	}
	return *addr
}

func (dc DatabaseConfig) Address() string {
	return net.JoinHostPort(dc.Host, strconv.Itoa(dc.Port))
}
