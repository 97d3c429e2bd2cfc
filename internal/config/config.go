package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	DynamoDB DynamoDBConfig
	Redis    RedisConfig
	Vonage   VonageConfig
	Network  NetworkConfig
	Verify   VerifyConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DynamoDBConfig struct {
	Endpoint  string
	Region    string
	TableName string
}

type RedisConfig struct {
	Endpoint string
	Password string
	DB       int
}

// VonageConfig holds the application identity used to sign requests to the
// verification provider.
type VonageConfig struct {
	ApplicationID  string
	PrivateKeyPEM  string
	PrivateKeyPath string
	TokenExpiry    time.Duration
}

// NetworkConfig covers the CIBA token exchange and the SIM swap risk API.
type NetworkConfig struct {
	AuthURL         string
	TokenURL        string
	SimSwapURL      string
	ServiceJWT      string
	SimSwapMaxAge   int
	ProviderTimeout time.Duration
}

type VerifyConfig struct {
	BaseURL          string
	Brand            string
	CodeLength       int
	RequestExpiry    time.Duration
	MaxAttempts      int
	RecipientNumber  string
	RequireSimCheck  bool
	PasswordHashCost int
}

type LogConfig struct {
	Level string
}

// Load reads configuration from the environment, after merging an optional
// .env file from the working directory.
func Load() (*Config, error) {
	cfg, err := LoadStore()
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadStore reads the same settings as Load without requiring provider
// credentials. Tools that only touch the credential store use it. A missing
// .env file is not an error.
func LoadStore() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		DynamoDB: DynamoDBConfig{
			Endpoint:  getEnv("DYNAMODB_ENDPOINT", ""),
			Region:    getEnv("DYNAMODB_REGION", "us-east-1"),
			TableName: getEnv("DYNAMODB_TABLE_NAME", "Credentials"),
		},
		Redis: RedisConfig{
			Endpoint: getEnv("REDIS_ENDPOINT", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Vonage: VonageConfig{
			ApplicationID:  getEnv("VONAGE_APPLICATION_ID", ""),
			PrivateKeyPEM:  strings.ReplaceAll(getEnv("VONAGE_PRIVATE_KEY", ""), `\n`, "\n"),
			PrivateKeyPath: getEnv("VONAGE_PRIVATE_KEY_PATH", ""),
			TokenExpiry:    getEnvAsDuration("VONAGE_TOKEN_EXPIRY", 15*time.Minute),
		},
		Network: NetworkConfig{
			AuthURL:         getEnv("NETWORK_AUTH_URL", "https://api-eu.vonage.com/oauth2/bc-authorize"),
			TokenURL:        getEnv("NETWORK_TOKEN_URL", "https://api-eu.vonage.com/oauth2/token"),
			SimSwapURL:      getEnv("SIM_SWAP_URL", "https://api-eu.vonage.com/camara/sim-swap/v040/check"),
			ServiceJWT:      getEnv("NETWORK_JWT", ""),
			SimSwapMaxAge:   getEnvAsInt("SIM_SWAP_MAX_AGE", 240),
			ProviderTimeout: getEnvAsDuration("PROVIDER_TIMEOUT", 10*time.Second),
		},
		Verify: VerifyConfig{
			BaseURL:          getEnv("VERIFY_BASE_URL", "https://api.nexmo.com"),
			Brand:            getEnv("VERIFY_BRAND", "Vonage Bank"),
			CodeLength:       getEnvAsInt("VERIFY_CODE_LENGTH", 4),
			RequestExpiry:    getEnvAsDuration("VERIFY_REQUEST_EXPIRY", 5*time.Minute),
			MaxAttempts:      getEnvAsInt("VERIFY_MAX_ATTEMPTS", 5),
			RecipientNumber:  getEnv("RECIPIENT_NUMBER", ""),
			RequireSimCheck:  getEnvAsBool("RESET_REQUIRE_SIM_CHECK", false),
			PasswordHashCost: getEnvAsInt("PASSWORD_HASH_COST", 10),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}, nil
}

func (c *Config) validate() error {
	if c.Vonage.ApplicationID == "" {
		return fmt.Errorf("VONAGE_APPLICATION_ID environment variable is required")
	}
	if c.Vonage.PrivateKeyPEM == "" && c.Vonage.PrivateKeyPath == "" {
		return fmt.Errorf("VONAGE_PRIVATE_KEY or VONAGE_PRIVATE_KEY_PATH must be set")
	}
	if c.Network.SimSwapMaxAge <= 0 {
		return fmt.Errorf("SIM_SWAP_MAX_AGE must be positive")
	}
	if c.Verify.MaxAttempts <= 0 {
		return fmt.Errorf("VERIFY_MAX_ATTEMPTS must be positive")
	}
	if c.Verify.CodeLength < 4 || c.Verify.CodeLength > 10 {
		return fmt.Errorf("VERIFY_CODE_LENGTH must be between 4 and 10")
	}
	return nil
}

// PrivateKey returns the PEM encoded application key, reading it from
// PrivateKeyPath when it was not given inline.
func (c *VonageConfig) PrivateKey() ([]byte, error) {
	if c.PrivateKeyPEM != "" {
		return []byte(c.PrivateKeyPEM), nil
	}
	data, err := os.ReadFile(c.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	return data, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
