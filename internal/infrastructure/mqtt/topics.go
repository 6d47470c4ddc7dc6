package mqtt

import (
	"fmt"
	"strings"

	"github.com/nerrad567/ferrobot-core/internal/device"
)

// DefaultTopicPrefix is the root of every ferrobot topic when the
// configuration leaves mqtt.topic_prefix empty.
const DefaultTopicPrefix = "ferrobot"

// Topic categories. Device topics use the flat scheme
// {prefix}/{category}/{kind}/{id}.
const (
	CategoryState   = "state"
	CategoryCommand = "command"
	CategoryAck     = "ack"
)

// Topics provides builders for ferrobot MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.NewTopics("ferrobot")
//	stateTopic := topics.State(device.Identity{Kind: device.KindSparkMax, ID: 7})
//	// Returns: "ferrobot/state/spark_max/7"
type Topics struct {
	Prefix string
}

// NewTopics returns builders rooted at prefix, or DefaultTopicPrefix when
// prefix is empty. Trailing slashes are trimmed.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

func (t Topics) root() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

func (t Topics) deviceTopic(category string, dev device.Identity) string {
	return fmt.Sprintf("%s/%s/%s/%d", t.root(), category, dev.Kind, dev.ID)
}

// =============================================================================
// Device Topics
// =============================================================================

// State returns the topic carrying decoded telemetry for a device.
//
// Example: ferrobot/state/spark_max/7
func (t Topics) State(dev device.Identity) string {
	return t.deviceTopic(CategoryState, dev)
}

// Command returns the topic on which remote set-points for a device arrive.
//
// Example: ferrobot/command/spark_max/7
func (t Topics) Command(dev device.Identity) string {
	return t.deviceTopic(CategoryCommand, dev)
}

// Ack returns the topic on which the outcome of a remote command is reported.
//
// Example: ferrobot/ack/navx/0
func (t Topics) Ack(dev device.Identity) string {
	return t.deviceTopic(CategoryAck, dev)
}

// ParseDeviceTopic splits a device topic into its category and identity.
//
// Example: "ferrobot/command/spark_max/7" returns ("command", spark_max/7).
func (t Topics) ParseDeviceTopic(topic string) (string, device.Identity, error) {
	rest, ok := strings.CutPrefix(topic, t.root()+"/")
	if !ok {
		return "", device.Identity{}, fmt.Errorf("%w: %q is outside %s", ErrInvalidTopic, topic, t.root())
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return "", device.Identity{}, fmt.Errorf("%w: %q is not a device topic", ErrInvalidTopic, topic)
	}
	dev, err := device.ParseIdentityParts(parts[1], parts[2])
	if err != nil {
		return "", device.Identity{}, fmt.Errorf("%w: %w", ErrInvalidTopic, err)
	}
	return parts[0], dev, nil
}

// =============================================================================
// Robot Topics
// =============================================================================

// Mode returns the topic carrying the robot mode.
//
// Example: ferrobot/mode
func (t Topics) Mode() string {
	return t.root() + "/mode"
}

// SystemStatus returns the system status topic used for online, offline
// and Last Will messages.
//
// Example: ferrobot/system/status
func (t Topics) SystemStatus() string {
	return t.root() + "/system/status"
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllStates returns a pattern matching every device state topic.
//
// Pattern: ferrobot/state/+/+
func (t Topics) AllStates() string {
	return fmt.Sprintf("%s/%s/+/+", t.root(), CategoryState)
}

// AllCommands returns a pattern matching every device command topic.
//
// Pattern: ferrobot/command/+/+
func (t Topics) AllCommands() string {
	return fmt.Sprintf("%s/%s/+/+", t.root(), CategoryCommand)
}

// AllTopics returns a pattern matching all ferrobot topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: ferrobot/#
func (t Topics) AllTopics() string {
	return t.root() + "/#"
}
