// Package config loads the bridge configuration.
//
// Configuration is built in layers: Default() values, then each file added
// with AddLayer (JSON or YAML, chosen by extension; later files override
// earlier ones field by field), then PLCBRIDGE_* environment variables.
// Durations may be written as Go duration strings ("500ms").
//
//	loader := config.NewLoader()
//	loader.AddLayer("/etc/plcbridge/bridge.yaml")
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		return err
//	}
//
// # Environment Overrides
//
//	PLCBRIDGE_TRANSPORT      nats | mqtt
//	PLCBRIDGE_NATS_URLS      comma separated
//	PLCBRIDGE_MQTT_BROKER    tcp://host:1883
//	PLCBRIDGE_INPUT_TOPIC    PLCBRIDGE_INPUT_PATH
//	PLCBRIDGE_OUTPUT_TOPIC   PLCBRIDGE_OUTPUT_PATH
//	PLCBRIDGE_POLL_INTERVAL  duration
//	PLCBRIDGE_OUTPUT_KEYS    comma separated %-prefixed keys
//	PLCBRIDGE_PUBLISH_MODE   full | diff
//	PLCBRIDGE_MIRROR_BUCKET  NATS KV bucket for the output mirror
//	PLCBRIDGE_METRICS_PORT
//
// Validate rejects configurations the bridges cannot run with; it also
// normalizes output keys to their canonical upper-case form.
package config
