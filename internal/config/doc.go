// Package config loads and watches the agent configuration file (config.yaml).
//
// Top-level types:
//   - Config{Agent} — full config tree parsed from YAML
//   - AgentConfig — device_id, state_path, collector, sensor, queue, health,
//     presence, connectivity, control
//   - SensorConfig — type (gpsd|mqtt|replay), endpoint, topic, path,
//     min_interval, min_distance_m
//   - AuthConfig — mode (apikey|bearer|none), header, key_env, token_env;
//     Key() and Token() resolve from environment variables
//
// Load(path) reads the YAML file, applies defaults (queue capacity 100,
// 10s send timeout, 30s presence period, 5m stale window), then validates
// required fields and enums.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the newly parsed Config. It handles the rename→create pattern
// used by atomic-save editors (vim, VS Code) by re-adding the watch after
// a rename event.
package config
