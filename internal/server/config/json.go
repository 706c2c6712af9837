package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dkaspars/attachsync/internal/flagx"
	"github.com/dkaspars/attachsync/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON unmarshalling.
// It uses timex.Duration for interval fields, which allows parsing both
// string values such as "1s" and integer nanoseconds.
//
// This struct is an intermediate DTO used only for reading JSON
// configuration files. After unmarshalling, its fields are copied into the
// runtime Config struct which uses time.Duration.
type JsonConfig struct {
	EndpointAddrHTTP string         `json:"endpoint_addr_http"`
	DatabaseDSN      string         `json:"database_dsn"`
	RemoteBaseURL    string         `json:"remote_base_url"`
	RemoteToken      string         `json:"remote_token"`
	RemoteTimeout    timex.Duration `json:"remote_timeout"`
	S3RootUser       string         `json:"s3_root_user"`
	S3RootPassword   string         `json:"s3_root_password"`
	S3Bucket         string         `json:"s3_bucket"`
	S3Region         string         `json:"s3_region"`
	S3BaseEndpoint   string         `json:"s3_base_endpoint"`
	Workers          int            `json:"workers"`
	PollInterval     timex.Duration `json:"poll_interval"`
	SessionTTL       timex.Duration `json:"session_ttl"`
	SweepInterval    timex.Duration `json:"sweep_interval"`
	DedupScope       string         `json:"dedup_scope"`
	BackoffBase      timex.Duration `json:"backoff_base"`
	BackoffCap       timex.Duration `json:"backoff_cap"`

	WebhookCallbackURL string `json:"webhook_callback_url"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The lookup order for the JSON file path is:
//
//	The -c or -config command-line flags.
//	If it is not set, no JSON file is loaded.
//
// If the file path is found, parseJson attempts to read and unmarshal it
// into a JsonConfig. The resulting values are copied into the target Config.
// If the file cannot be read or contains invalid JSON, the function panics.
func parseJson(config *Config) {

	// try flags
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	config.EndpointAddrHTTP = c.EndpointAddrHTTP
	config.DatabaseDSN = c.DatabaseDSN
	config.RemoteBaseURL = c.RemoteBaseURL
	config.RemoteToken = c.RemoteToken
	config.RemoteTimeout = time.Duration(c.RemoteTimeout.Duration)
	config.S3RootUser = c.S3RootUser
	config.S3RootPassword = c.S3RootPassword
	config.S3Bucket = c.S3Bucket
	config.S3Region = c.S3Region
	config.S3BaseEndpoint = c.S3BaseEndpoint
	config.Workers = c.Workers
	config.PollInterval = time.Duration(c.PollInterval.Duration)
	config.SessionTTL = time.Duration(c.SessionTTL.Duration)
	config.SweepInterval = time.Duration(c.SweepInterval.Duration)
	config.DedupScope = c.DedupScope
	config.BackoffBase = time.Duration(c.BackoffBase.Duration)
	config.BackoffCap = time.Duration(c.BackoffCap.Duration)
	config.WebhookCallbackURL = c.WebhookCallbackURL
}
