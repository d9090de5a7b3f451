package hass

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicoakes/RainRadarrNZ/internal/imaging"
	"github.com/nicoakes/RainRadarrNZ/internal/radar"
)

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *fakePublisher) Publish(topic string, retained bool, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic: topic, retained: retained, payload: payload})
	return nil
}

func (p *fakePublisher) last(topic string) (published, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.msgs) - 1; i >= 0; i-- {
		if p.msgs[i].topic == topic {
			return p.msgs[i], true
		}
	}
	return published{}, false
}

func newTestDiscovery() (*Discovery, *fakePublisher) {
	pub := &fakePublisher{}
	d := NewDiscovery(pub, DiscoveryConfig{
		Topics:  NewTopics("rainradar/"),
		Name:    "Rain Radar",
		Version: "test",
	}, nil)
	return d, pub
}

func TestNewTopics(t *testing.T) {
	topics := NewTopics("rainradar/")
	assert.Equal(t, "rainradar/status", topics.Availability)
	assert.Equal(t, "rainradar/sensor/state", topics.SensorState)
	assert.Equal(t, "rainradar/sensor/attributes", topics.SensorAttributes)
	assert.Equal(t, "rainradar/camera/image", topics.CameraImage)
}

func TestObjectID(t *testing.T) {
	assert.Equal(t, "rain_radar", objectID("Rain Radar"))
	assert.Equal(t, "chch_300k", objectID(" ChCh-300K "))
	assert.Equal(t, "rainradar", objectID(""))
}

func TestDiscoveryAnnounce(t *testing.T) {
	d, pub := newTestDiscovery()
	require.NoError(t, d.Announce())

	msg, ok := pub.last("homeassistant/camera/rain_radar/camera/config")
	require.True(t, ok)
	assert.True(t, msg.retained)
	var cam CameraConfig
	require.NoError(t, json.Unmarshal(msg.payload, &cam))
	assert.Equal(t, "Rain Radar", cam.Name)
	assert.Equal(t, "rain_radar_camera", cam.UniqueID)
	assert.Equal(t, "rainradar/camera/image", cam.Topic)
	assert.Equal(t, "rainradar/status", cam.AvailabilityTopic)
	require.NotNil(t, cam.Device)
	assert.Equal(t, []string{"rain_radar"}, cam.Device.Identifiers)

	msg, ok = pub.last("homeassistant/sensor/rain_radar/sensor/config")
	require.True(t, ok)
	var sensor SensorConfig
	require.NoError(t, json.Unmarshal(msg.payload, &sensor))
	assert.Equal(t, "rainradar/sensor/state", sensor.StateTopic)
	assert.Equal(t, "rainradar/sensor/attributes", sensor.JSONAttributesTopic)

	msg, ok = pub.last("rainradar/status")
	require.True(t, ok)
	assert.Equal(t, "online", string(msg.payload))

	require.NoError(t, d.Offline())
	msg, _ = pub.last("rainradar/status")
	assert.Equal(t, "offline", string(msg.payload))
}

func TestDiscoveryPublishSensor(t *testing.T) {
	d, pub := newTestDiscovery()
	newest := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	err := d.PublishSensor(radar.SensorSnapshot{
		State:       "https://example.test/" + strings.Repeat("x", 300),
		ImageCount:  4,
		NewestImage: newest,
		OldestImage: newest.Add(-time.Hour),
		LastRun:     &radar.FetchReport{Downloaded: 1, Missing: 59, URLs: []string{"u1", "u2"}},
		Journal:     &radar.JournalSummary{Attempts: 60},
	})
	require.NoError(t, err)

	state, ok := pub.last("rainradar/sensor/state")
	require.True(t, ok)
	assert.Len(t, state.payload, maxStateLength)

	attrsMsg, ok := pub.last("rainradar/sensor/attributes")
	require.True(t, ok)
	var attrs map[string]interface{}
	require.NoError(t, json.Unmarshal(attrsMsg.payload, &attrs))
	assert.EqualValues(t, 4, attrs["image_count"])
	assert.EqualValues(t, 1, attrs["downloaded"])
	assert.EqualValues(t, 59, attrs["missing"])
	assert.EqualValues(t, 60, attrs["journal_attempts"])
	assert.Equal(t, []interface{}{"u1", "u2"}, attrs["urls"])
	assert.NotContains(t, attrs, "last_download")
}

func TestDiscoveryPublishFrame(t *testing.T) {
	d, pub := newTestDiscovery()
	require.NoError(t, d.PublishFrame(imaging.Frame{Name: "a", Data: []byte("GIF89a")}))

	msg, ok := pub.last("rainradar/camera/image")
	require.True(t, ok)
	assert.False(t, msg.retained)
	assert.Equal(t, []byte("GIF89a"), msg.payload)
}
