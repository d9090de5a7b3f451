package hass

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nicoakes/RainRadarrNZ/internal/imaging"
	"github.com/nicoakes/RainRadarrNZ/internal/radar"
)

const (
	// DefaultDiscoveryPrefix is Home Assistant's MQTT discovery prefix.
	DefaultDiscoveryPrefix = "homeassistant"

	payloadOnline  = "online"
	payloadOffline = "offline"

	// Home Assistant rejects states longer than this.
	maxStateLength = 255
)

// Publisher sends a payload to an MQTT topic.
type Publisher interface {
	Publish(topic string, retained bool, payload []byte) error
}

// Topics are the MQTT topics the radar entities use.
type Topics struct {
	Availability     string
	SensorState      string
	SensorAttributes string
	CameraImage      string
}

// NewTopics derives the entity topics from a base topic, e.g. "rainradar".
func NewTopics(base string) Topics {
	base = strings.TrimSuffix(base, "/")
	return Topics{
		Availability:     base + "/status",
		SensorState:      base + "/sensor/state",
		SensorAttributes: base + "/sensor/attributes",
		CameraImage:      base + "/camera/image",
	}
}

// DiscoveryConfig names the entities announced to Home Assistant.
type DiscoveryConfig struct {
	Prefix  string
	Topics  Topics
	NodeID  string
	Name    string
	Version string
}

// Discovery announces the radar camera and sensor through MQTT discovery
// and keeps their state topics up to date.
type Discovery struct {
	pub    Publisher
	cfg    DiscoveryConfig
	device *DeviceInfo
	logger *zap.Logger
}

// NewDiscovery creates a Discovery.
func NewDiscovery(pub Publisher, cfg DiscoveryConfig, logger *zap.Logger) *Discovery {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultDiscoveryPrefix
	}
	if cfg.NodeID == "" {
		cfg.NodeID = objectID(cfg.Name)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discovery{
		pub: pub,
		cfg: cfg,
		device: &DeviceInfo{
			Identifiers:  []string{cfg.NodeID},
			Name:         cfg.Name,
			Manufacturer: "rainradar",
			Model:        "Radar image poller",
			SWVersion:    cfg.Version,
		},
		logger: logger,
	}
}

// objectID normalises an entity name for use in topics and unique ids.
func objectID(name string) string {
	id := strings.ToLower(strings.TrimSpace(name))
	id = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, id)
	if id == "" {
		return "rainradar"
	}
	return id
}

func (d *Discovery) configTopic(component string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", d.cfg.Prefix, component, d.cfg.NodeID, component)
}

// Announce publishes the retained discovery configs and marks the entities online.
func (d *Discovery) Announce() error {
	camera := CameraConfig{
		Name:                d.cfg.Name,
		UniqueID:            d.cfg.NodeID + "_camera",
		ObjectID:            d.cfg.NodeID,
		Topic:               d.cfg.Topics.CameraImage,
		AvailabilityTopic:   d.cfg.Topics.Availability,
		PayloadAvailable:    payloadOnline,
		PayloadNotAvailable: payloadOffline,
		Icon:                "mdi:radar",
		Device:              d.device,
	}
	sensor := SensorConfig{
		Name:                d.cfg.Name,
		UniqueID:            d.cfg.NodeID + "_sensor",
		ObjectID:            d.cfg.NodeID,
		StateTopic:          d.cfg.Topics.SensorState,
		JSONAttributesTopic: d.cfg.Topics.SensorAttributes,
		AvailabilityTopic:   d.cfg.Topics.Availability,
		PayloadAvailable:    payloadOnline,
		PayloadNotAvailable: payloadOffline,
		Icon:                "mdi:weather-pouring",
		Device:              d.device,
	}

	if err := d.publishJSON(d.configTopic("camera"), camera); err != nil {
		return fmt.Errorf("failed to publish camera discovery: %w", err)
	}
	if err := d.publishJSON(d.configTopic("sensor"), sensor); err != nil {
		return fmt.Errorf("failed to publish sensor discovery: %w", err)
	}

	d.logger.Info("Announced radar entities to Home Assistant",
		zap.String("node_id", d.cfg.NodeID),
		zap.String("prefix", d.cfg.Prefix))

	return d.pub.Publish(d.cfg.Topics.Availability, true, []byte(payloadOnline))
}

// Offline marks the entities unavailable.
func (d *Discovery) Offline() error {
	return d.pub.Publish(d.cfg.Topics.Availability, true, []byte(payloadOffline))
}

// PublishSensor sends the sensor state and its attributes.
func (d *Discovery) PublishSensor(snap radar.SensorSnapshot) error {
	state := snap.State
	if len(state) > maxStateLength {
		state = state[:maxStateLength]
	}
	if err := d.pub.Publish(d.cfg.Topics.SensorState, true, []byte(state)); err != nil {
		return fmt.Errorf("failed to publish sensor state: %w", err)
	}
	if err := d.publishJSON(d.cfg.Topics.SensorAttributes, sensorAttributes(snap)); err != nil {
		return fmt.Errorf("failed to publish sensor attributes: %w", err)
	}
	return nil
}

// PublishFrame sends one camera frame.
func (d *Discovery) PublishFrame(f imaging.Frame) error {
	return d.pub.Publish(d.cfg.Topics.CameraImage, false, f.Data)
}

func sensorAttributes(snap radar.SensorSnapshot) map[string]interface{} {
	attrs := map[string]interface{}{
		"image_count": snap.ImageCount,
	}
	if !snap.NewestImage.IsZero() {
		attrs["newest_image"] = snap.NewestImage
		attrs["oldest_image"] = snap.OldestImage
	}
	if r := snap.LastRun; r != nil {
		attrs["urls"] = r.URLs
		attrs["last_run"] = r.FinishedAt
		attrs["downloaded"] = r.Downloaded
		attrs["skipped"] = r.Skipped
		attrs["missing"] = r.Missing
		attrs["failed"] = r.Failed
	}
	if j := snap.Journal; j != nil {
		attrs["journal_attempts"] = j.Attempts
		if !j.LastDownloadAt.IsZero() {
			attrs["last_download"] = j.LastDownloadAt
		}
	}
	return attrs
}

func (d *Discovery) publishJSON(topic string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return d.pub.Publish(topic, true, payload)
}
