// Package mqtt mirrors the published extension state to an MQTT broker.
//
// Each piece of state (instructions, active functions, errors, remote
// software version, enabled flag) is published retained to its own
// topic under <topic_prefix>/<device_name>/, so late subscribers see the
// current value immediately. Only topics whose payload changed are
// republished; everything is republished after a reconnect.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. A will message
// ensures the availability topic transitions to "offline" on
// unexpected disconnects. When a discovery prefix is configured, Home
// Assistant discovery payloads are published on every (re-)connect so
// the extension shows up as a device with diagnostic sensors.
package mqtt
