package config

type Cli struct {
	HTTPAddress        string
	PromPort           int
	APIToken           string
	TranscodedRoot     string
	DBConnectionString string
	FFmpegBin          string
	PackagerBin        string
	QueueConcurrency   int
	SoftTimeLimitSec   int
}
