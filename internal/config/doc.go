/*
Package config loads the mount's configuration.

Precedence, lowest to highest:

	Defaults (NewDefault)
	YAML file (LoadFromFile)
	Environment variables, B2FS_* (LoadFromEnv)
	CLI flags (applied by cmd/b2fs after LoadFromEnv)

Example file:

	account_id: "deadbeef0001"
	application_key: "K001..."
	bucket_id: "8d625eb63be2775577c70e1a"
	cache_timeout: 120s
	log_level: INFO
	metrics_port: 9090
*/
package config
