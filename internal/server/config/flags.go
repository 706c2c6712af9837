package config

import (
	"flag"
	"os"
	"time"

	"github.com/dkaspars/attachsync/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP ops bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-m string   remote tracker base URL
//	-k string   remote tracker bearer token
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-w int      worker count
//	-n string   webhook callback URL registered with the tracker
//	-t int      upload session TTL, hours
//	-s string   dedup scope ("work_item" or "global")
//
// Notes:
//   - The function first filters os.Args to only the flags it recognizes using
//     flagx.FilterArgs, avoiding collisions with other components.
//   - The session TTL flag is accepted as an integer in hours and then
//     converted to a time.Duration value.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-m", "-k", "-u", "-p", "-b", "-g", "-e", "-w", "-t", "-s", "-n"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run the ops listener")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.RemoteBaseURL, "m", config.RemoteBaseURL, "remote tracker base URL")
	fs.StringVar(&config.RemoteToken, "k", config.RemoteToken, "remote tracker bearer token")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 root bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 root region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	fs.IntVar(&config.Workers, "w", config.Workers, "worker count")
	sessionTTL := fs.Int("t", int(config.SessionTTL.Hours()), "upload session TTL (in hours)")
	fs.StringVar(&config.DedupScope, "s", config.DedupScope, "dedup scope (work_item or global)")
	fs.StringVar(&config.WebhookCallbackURL, "n", config.WebhookCallbackURL, "webhook callback URL")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.SessionTTL = time.Duration(*sessionTTL) * time.Hour
}
