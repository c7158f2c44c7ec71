// Package telemetry publishes a periodic device heartbeat to an MQTT broker.
package telemetry

import "codeberg.org/mutker/wifiprovd/internal/wifi"

// StatusSource supplies the connection state the heartbeat reports.
type StatusSource interface {
	Snapshot() wifi.Status
}

// Info is the JSON document published on the info topic. Uptime is in
// seconds.
type Info struct {
	MAC    string `json:"mac"`
	IP     string `json:"ip"`
	Uptime int64  `json:"uptime"`
	Online bool   `json:"online"`
}

// Subtopics below <prefix>/<MAC>/.
const (
	TopicMAC    = "mac"
	TopicIP     = "ip"
	TopicUptime = "uptime"
	TopicInfo   = "info"
)
