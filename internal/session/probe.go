package session

import (
	"os"
	"runtime"
	"time"
)

// DeviceInfo is the typed device snapshot attached to a session.
type DeviceInfo struct {
	Type     string `msgpack:"type" json:"type"`
	OS       string `msgpack:"os" json:"os"`
	Arch     string `msgpack:"arch" json:"arch"`
	Hostname string `msgpack:"hostname" json:"hostname,omitempty"`
}

// BrowserInfo describes the hosting runtime. The name is kept for wire
// compatibility with collectors that expect a browser field.
type BrowserInfo struct {
	Name     string `msgpack:"name" json:"name"`
	Version  string `msgpack:"version" json:"version"`
	Language string `msgpack:"language" json:"language,omitempty"`
}

// LocationInfo is the coarse location snapshot (timezone only; no
// geolocation is ever collected client-side).
type LocationInfo struct {
	Timezone string `msgpack:"timezone" json:"timezone,omitempty"`
}

// Environment is the full context snapshot taken at session start.
type Environment struct {
	Device   *DeviceInfo   `msgpack:"device" json:"device,omitempty"`
	Browser  *BrowserInfo  `msgpack:"browser" json:"browser,omitempty"`
	Location *LocationInfo `msgpack:"location" json:"location,omitempty"`
}

// EnvironmentProbe supplies the environment snapshot for new sessions.
// It is injected so tests can pin a deterministic snapshot.
type EnvironmentProbe interface {
	Snapshot() Environment
}

// HostProbe is the default probe: it describes the local Go process.
type HostProbe struct{}

func (HostProbe) Snapshot() Environment {
	hostname, _ := os.Hostname()
	zone, _ := time.Now().Zone()
	return Environment{
		Device: &DeviceInfo{
			Type:     "server",
			OS:       runtime.GOOS,
			Arch:     runtime.GOARCH,
			Hostname: hostname,
		},
		Browser: &BrowserInfo{
			Name:     "go",
			Version:  runtime.Version(),
			Language: os.Getenv("LANG"),
		},
		Location: &LocationInfo{Timezone: zone},
	}
}
