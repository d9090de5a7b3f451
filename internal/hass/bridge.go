package hass

import (
	"context"

	"go.uber.org/zap"

	"github.com/nicoakes/RainRadarrNZ/internal/imaging"
	"github.com/nicoakes/RainRadarrNZ/internal/radar"
)

// UpdatedEvent is fired on the Home Assistant event bus after each fetch run.
const UpdatedEvent = "rainradar_updated"

// SensorSource builds the current sensor snapshot.
type SensorSource interface {
	Sensor(ctx context.Context) (radar.SensorSnapshot, error)
}

// EventFirer fires Home Assistant events.
type EventFirer interface {
	FireEvent(eventType string, data map[string]interface{}) error
}

// Bridge pushes fetch results and camera frames to Home Assistant. Either
// side may be nil when that integration is not configured.
type Bridge struct {
	sensors   SensorSource
	discovery *Discovery
	events    EventFirer
	logger    *zap.Logger
}

// NewBridge creates a Bridge.
func NewBridge(sensors SensorSource, discovery *Discovery, events EventFirer, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		sensors:   sensors,
		discovery: discovery,
		events:    events,
		logger:    logger,
	}
}

// PushesFrames reports whether camera frames have anywhere to go.
func (b *Bridge) PushesFrames() bool {
	return b.discovery != nil
}

// FetchCompleted publishes the sensor state and fires the update event.
func (b *Bridge) FetchCompleted(ctx context.Context, report radar.FetchReport) {
	if b.discovery != nil {
		snap, err := b.sensors.Sensor(ctx)
		if err != nil {
			b.logger.Warn("Failed to build sensor snapshot", zap.Error(err))
		} else if err := b.discovery.PublishSensor(snap); err != nil {
			b.logger.Warn("Failed to publish sensor", zap.Error(err))
		}
	}

	if b.events != nil {
		err := b.events.FireEvent(UpdatedEvent, map[string]interface{}{
			"run_id":     report.RunID,
			"downloaded": report.Downloaded,
			"missing":    report.Missing,
			"failed":     report.Failed,
			"latest_url": report.LatestURL,
		})
		if err != nil {
			b.logger.Warn("Failed to fire Home Assistant event", zap.Error(err))
		}
	}
}

// PublishFrame forwards one camera frame to the MQTT camera.
func (b *Bridge) PublishFrame(f imaging.Frame) error {
	if b.discovery == nil {
		return nil
	}
	return b.discovery.PublishFrame(f)
}
