package model

import "time"

// Color identifies one of the two parallel deployment slots.
type Color string

const (
	ColorBlue  Color = "blue"
	ColorGreen Color = "green"
)

// Opposite returns the other slot color.
func (c Color) Opposite() Color {
	if c == ColorBlue {
		return ColorGreen
	}
	return ColorBlue
}

// SlotHealth is the observed health of a deployment slot's workload.
type SlotHealth string

const (
	SlotHealthUnknown     SlotHealth = "UNKNOWN"
	SlotHealthProgressing SlotHealth = "PROGRESSING"
	SlotHealthHealthy     SlotHealth = "HEALTHY"
	SlotHealthFailed      SlotHealth = "FAILED"
)

// DeploymentSlot is created on each deploy into the currently inactive color
// and retired after a grace period once the slot is superseded.
type DeploymentSlot struct {
	Environment  string
	Color        Color
	Namespace    string
	ImageRef     string
	HealthStatus SlotHealth
	CreatedAt    time.Time
}
