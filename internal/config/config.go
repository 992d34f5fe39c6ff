package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	AuthSecret            string
	AccessTokenTTLMinutes int

	FiscalProvider      string
	FiscalAPIToken      string
	FiscalEnvironment   string
	FiscalTimeout       time.Duration
	FocusNFeURL         string
	NuvemFiscalURL      string
	PlugNotasURL        string
	WebmaniaURL         string
	TaxRateURL          string
	TaxRateToken        string
	TaxRateCNPJ         string
	ReceiptWidth        int
	DefaultTimezone     string
	ClientPrinterTTL    time.Duration
	ClientPrinterMaxIDs int
}

// Load reads the process environment, after merging an optional .env file.
// Values already present in the environment win over the file.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL := getEnvInt("ACCESS_TOKEN_TTL_MINUTES", 480)
	if tokenTTL < 1 {
		tokenTTL = 480
	}
	width := getEnvInt("RECEIPT_WIDTH", 48)
	if width < 32 {
		width = 48
	}
	printerTTL := getEnvInt("CLIENT_PRINTER_TTL_MINUTES", 30)
	if printerTTL < 1 {
		printerTTL = 30
	}
	maxClients := getEnvInt("CLIENT_PRINTER_MAX_CLIENTS", 256)
	if maxClients < 1 {
		maxClients = 256
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,

		FiscalProvider:      strings.ToLower(getEnv("FISCAL_PROVIDER", "mock")),
		FiscalAPIToken:      strings.TrimSpace(os.Getenv("FISCAL_API_TOKEN")),
		FiscalEnvironment:   strings.ToLower(getEnv("FISCAL_ENVIRONMENT", "homologacao")),
		FiscalTimeout:       ClampFiscalTimeout(time.Duration(getEnvInt("FISCAL_TIMEOUT_SECONDS", 45)) * time.Second),
		FocusNFeURL:         getEnv("FOCUSNFE_URL", "https://homologacao.focusnfe.com.br"),
		NuvemFiscalURL:      getEnv("NUVEMFISCAL_URL", "https://api.sandbox.nuvemfiscal.com.br"),
		PlugNotasURL:        getEnv("PLUGNOTAS_URL", "https://api.sandbox.plugnotas.com.br"),
		WebmaniaURL:         getEnv("WEBMANIA_URL", "https://webmaniabr.com/api/1"),
		TaxRateURL:          os.Getenv("TAXRATE_URL"),
		TaxRateToken:        strings.TrimSpace(os.Getenv("TAXRATE_TOKEN")),
		TaxRateCNPJ:         os.Getenv("TAXRATE_CNPJ"),
		ReceiptWidth:        width,
		DefaultTimezone:     getEnv("DEFAULT_TIMEZONE", "America/Sao_Paulo"),
		ClientPrinterTTL:    time.Duration(printerTTL) * time.Minute,
		ClientPrinterMaxIDs: maxClients,
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// ClampFiscalTimeout keeps provider calls between 30 and 60 seconds.
func ClampFiscalTimeout(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return 45 * time.Second
	case d < 30*time.Second:
		return 30 * time.Second
	case d > 60*time.Second:
		return 60 * time.Second
	}
	return d
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getEnvInt(key string, fallback int) int {
	val, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil {
		return fallback
	}
	return val
}
