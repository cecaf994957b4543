// Copyright (c) 2026 The Lustre HSM Action Shipper Authors.
// See LICENSE for copying information.

package cmd

import "time"

// Config is the flat, flag-bindable configuration struct exposing every
// option from spec §6's configuration table. Struct tags follow the
// teacher's `process.Bind` convention (default/help/hidden) from
// pkg/process/exec_conf_test.go.
type Config struct {
	MDTWatchGlob string `flag:"mdt_watch_glob" default:"/sys/kernel/debug/lustre/mdt/*-MDT????/hsm/actions" help:"glob pattern matching per-MDT HSM action-log files"`
	CachePath    string `flag:"cache_path" default:"/var/cache/hsm-action-shipper/cache.json" help:"path to the durable last-known-state cache file"`

	PollInterval      time.Duration `flag:"poll_interval" default:"20s" help:"time between shipper poll cycles"`
	ReconcileInterval time.Duration `flag:"reconcile_interval" default:"6h" help:"time between maintenance passes"`

	RedisHost     string `flag:"redis_host" default:"127.0.0.1" help:"Redis host"`
	RedisPort     int64  `flag:"redis_port" default:"6379" help:"Redis port"`
	RedisDB       int64  `flag:"redis_db" default:"0" help:"Redis logical database index"`
	RedisPassword string `flag:"redis_password" default:"" hidden:"true" help:"Redis AUTH password"`

	RedisStreamPrefix string `flag:"redis_stream_prefix" default:"hsm:actions" help:"prefix for per-MDT stream keys"`

	TrimChunkSize           int64 `flag:"trim_chunk_size" default:"1000" help:"XTRIM LIMIT used by the maintenance worker"`
	AggressiveTrimThreshold int64 `flag:"aggressive_trim_threshold" default:"5000" help:"re-trim immediately if more than this many entries were removed"`
	ReplayChunkSize         int64 `flag:"replay_chunk_size" default:"1000" help:"XRANGE page size used to replay a stream"`

	LogLevel string `flag:"log_level" default:"info" help:"diagnostic verbosity: debug, info, warn, error"`
}
