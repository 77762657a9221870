package domain

import "time"

// Event levels.
const (
	EventInfo  = "info"
	EventWarn  = "warn"
	EventError = "error"
)

// Event is one human-readable engine log line, published for dashboards
// alongside the structured slog output.
type Event struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}
