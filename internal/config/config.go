package config

import "os"

type Config struct {
	DBHost          string
	DBPort          string
	DBUser          string
	DBPassword      string
	DBName          string
	JWTSecret       string
	ServerPort      string
	AdminAPIBaseURL string
	AdminAPIToken   string
	UploadDir       string
	SiteTitle       string
	FaviconPath     string
}

func Load() *Config {
	return &Config{
		DBHost:          getEnv("DB_HOST", "localhost"),
		DBPort:          getEnv("DB_PORT", "5432"),
		DBUser:          getEnv("DB_USER", "postgres"),
		DBPassword:      getEnv("DB_PASSWORD", "postgres"),
		DBName:          getEnv("DB_NAME", "nihongo_admin"),
		JWTSecret:       getEnv("JWT_SECRET", "super-secret-key-change-me"),
		ServerPort:      getEnv("SERVER_PORT", "8080"),
		AdminAPIBaseURL: getEnv("ADMIN_API_BASE_URL", "http://localhost:3000"),
		AdminAPIToken:   getEnv("ADMIN_API_TOKEN", ""),
		UploadDir:       getEnv("UPLOAD_DIR", "/uploads"),
		SiteTitle:       getEnv("SITE_TITLE", "Nhaikanji Admin"),
		FaviconPath:     getEnv("FAVICON_PATH", "assets/favicon.png"),
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
