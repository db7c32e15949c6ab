package models

type ConfigFile struct {
	Address           string
	Port              string
	TlsCert           string
	TlsKey            string
	Cors              bool
	PrintHttpRequests bool
	LogToFile         bool
	LogLevel          string
	JwtSecret         string
	// when true, a revocation store outage lets tokens through instead of
	// answering 503
	RevocationFailOpen bool
	SnowflakeWorkerID  int64
	SelfContained      bool
	DbDriver           string
	DbUser             string
	DbPassword         string
	DbAddress          string
	DbPort             string
	DbDatabase         string
	DbMaxOpenConns     int
	RedisAddress       string
	RedisPassword      string
	RedisDB            int
	S3Endpoint         string
	S3AccessKey        string
	S3SecretKey        string
	S3Bucket           string
	S3Region           string
	S3UseSSL           bool
	StaticBasePath     string
	SearchURL          string
	SearchApiKey       string
	SearchSyncSeconds  int
	QuoteURL           string
	QuoteRefillSeconds int
	SmtpUsername       string
	SmtpPassword       string
	SmtpServer         string
	SmtpPort           string
	SmtpFrom           string
}
