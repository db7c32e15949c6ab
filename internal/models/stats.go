package models

import (
	"encoding/json"
	"math"
)

const UnknownVersion = "Unknown"

type Motd struct {
	Plain     string `json:"plain"`
	HTML      string `json:"html"`
	Minecraft string `json:"minecraft"`
	Ansi      string `json:"ansi"`
}

// ServerStatus is the typed form of a stat_data payload.
//
// Defaults when a field is missing or has the wrong type:
//   - Players: empty map, a non-integer count becomes 0
//   - Delay: 0
//   - Version: "Unknown"
//   - Motd: all four formats empty
//   - Icon: nil
type ServerStatus struct {
	Players map[string]int64 `json:"players"`
	Delay   float64          `json:"delay"`
	Version string           `json:"version"`
	Motd    Motd             `json:"motd"`
	Icon    *string          `json:"icon"`
}

// ParseStats validates a raw stat_data payload. Only a payload that is not a
// JSON object is an error, every field falls back to its default.
func ParseStats(raw []byte) (*ServerStatus, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}

	status := &ServerStatus{
		Players: map[string]int64{},
		Version: UnknownVersion,
	}

	if v, ok := fields["players"]; ok {
		var players map[string]any
		if json.Unmarshal(v, &players) == nil {
			for key, count := range players {
				status.Players[key] = wholeNumber(count)
			}
		}
	}

	if v, ok := fields["delay"]; ok {
		var delay float64
		if json.Unmarshal(v, &delay) == nil {
			status.Delay = delay
		}
	}

	if v, ok := fields["version"]; ok {
		var version string
		if json.Unmarshal(v, &version) == nil {
			status.Version = version
		}
	}

	if v, ok := fields["motd"]; ok {
		var motd map[string]any
		if json.Unmarshal(v, &motd) == nil {
			status.Motd = Motd{
				Plain:     stringField(motd, "plain"),
				HTML:      stringField(motd, "html"),
				Minecraft: stringField(motd, "minecraft"),
				Ansi:      stringField(motd, "ansi"),
			}
		}
	}

	if v, ok := fields["icon"]; ok {
		var icon string
		if json.Unmarshal(v, &icon) == nil {
			status.Icon = &icon
		}
	}

	return status, nil
}

// OnlinePlayers reads players.online straight from a raw payload, used when
// summing across every stats row.
func OnlinePlayers(raw []byte) int64 {
	var payload struct {
		Players map[string]any `json:"players"`
	}
	if json.Unmarshal(raw, &payload) != nil {
		return 0
	}
	return wholeNumber(payload.Players["online"])
}

func wholeNumber(v any) int64 {
	n, ok := v.(float64)
	if !ok || n != math.Trunc(n) {
		return 0
	}
	return int64(n)
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
