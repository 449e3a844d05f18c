package domain

import (
	"fmt"
	"unicode/utf8"
)

const (
	ChannelGeneral     = "general"
	ChannelSensors     = "sensors"
	ChannelReadings    = "readings"
	ChannelLocations   = "locations"
	ChannelAnomalies   = "anomalies"
	ChannelPredictions = "predictions"
)

const maxChannelLength = 128

var entityChannels = map[EntityType]string{
	EntitySensor:     ChannelSensors,
	EntityReading:    ChannelReadings,
	EntityLocation:   ChannelLocations,
	EntityAnomaly:    ChannelAnomalies,
	EntityPrediction: ChannelPredictions,
}

// ChannelFor returns the channel conventionally carrying events for the entity type.
func ChannelFor(t EntityType) (string, bool) {
	ch, ok := entityChannels[t]
	return ch, ok
}

// KnownChannels lists the well-known channels, catch-all first.
func KnownChannels() []string {
	return []string{ChannelGeneral, ChannelSensors, ChannelReadings, ChannelLocations, ChannelAnomalies, ChannelPredictions}
}

// ValidateChannel rejects names that cannot be used as a registry key.
// Channel names are otherwise arbitrary and case-sensitive.
func ValidateChannel(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidChannel)
	}
	if len(name) > maxChannelLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidChannel, maxChannelLength)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidChannel)
	}
	return nil
}
