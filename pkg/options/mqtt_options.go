package options

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/autopeer-io/skypeer/pkg/mqtt"
	"github.com/autopeer-io/skypeer/pkg/mqtt/topic"
)

var _ IOptions = (*MqttOptions)(nil)

// MqttOptions contains configuration for the MQTT link to the vehicle.
type MqttOptions struct {
	Broker   string `json:"broker" mapstructure:"broker"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	ClientID string `json:"client-id" mapstructure:"client-id"`

	// Client behavior
	KeepAlive         time.Duration `json:"keep-alive" mapstructure:"keep-alive"`
	ConnectTimeout    time.Duration `json:"connect-timeout" mapstructure:"connect-timeout"`
	ReconnectInterval time.Duration `json:"reconnect-interval" mapstructure:"reconnect-interval"`
	SessionExpiry     uint32        `json:"session-expiry" mapstructure:"session-expiry"`
	CleanStart        bool          `json:"clean-start" mapstructure:"clean-start"`

	// InsecureSkipVerify controls whether a client verifies the server's certificate chain and host name.
	// If true, TLS accepts any certificate presented by the server and any host name in that certificate.
	// In this mode, TLS is susceptible to man-in-the-middle attacks. This should be used only for testing.
	InsecureSkipVerify bool `json:"insecure-skip-verify" mapstructure:"insecure-skip-verify"`

	// Topics are built as {TopicRoot}/{VehicleID}/{segment}/{component}.
	TopicRoot string `json:"topic-root" mapstructure:"topic-root"`
	VehicleID string `json:"vehicle-id" mapstructure:"vehicle-id"`

	QoS       int `json:"qos" mapstructure:"qos"`
	ChunkSize int `json:"chunk-size" mapstructure:"chunk-size"`
}

// NewMqttOptions creates a new MqttOptions with default values.
func NewMqttOptions() *MqttOptions {
	return &MqttOptions{
		Broker:            "tcp://127.0.0.1:1883",
		KeepAlive:         30 * time.Second,
		ConnectTimeout:    5 * time.Second,
		ReconnectInterval: 3 * time.Second,
		CleanStart:        true,
		TopicRoot:         "skypeer/v1",
		VehicleID:         "default",
		QoS:               1,
		ChunkSize:         64 * 1024,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *MqttOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	if err := o.ToClientConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("--mqtt.broker: %w", err))
	}
	if o.VehicleID == "" {
		errs = append(errs, errors.New("--mqtt.vehicle-id is required"))
	}
	if o.QoS < 0 || o.QoS > 2 {
		errs = append(errs, fmt.Errorf("--mqtt.qos must be 0, 1 or 2, got %d", o.QoS))
	}
	if o.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("--mqtt.chunk-size must be positive, got %d", o.ChunkSize))
	}

	return errs
}

// AddFlags adds flags for MqttOptions to the specified FlagSet.
func (o *MqttOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Broker, "mqtt.broker", o.Broker, "The URL of the MQTT broker.")
	fs.StringVar(&o.Username, "mqtt.username", o.Username, "The username for MQTT authentication.")
	fs.StringVar(&o.Password, "mqtt.password", o.Password, "The password for MQTT authentication.")
	fs.StringVar(&o.ClientID, "mqtt.client-id", o.ClientID, "Explicit Client ID (optional, usually generated).")

	fs.DurationVar(&o.KeepAlive, "mqtt.keep-alive", o.KeepAlive, "MQTT Keep Alive interval.")
	fs.DurationVar(&o.ConnectTimeout, "mqtt.connect-timeout", o.ConnectTimeout, "Timeout for establishing MQTT connection.")
	fs.DurationVar(&o.ReconnectInterval, "mqtt.reconnect-interval", o.ReconnectInterval, "Delay between reconnection attempts.")
	fs.Uint32Var(&o.SessionExpiry, "mqtt.session-expiry", o.SessionExpiry, "MQTT Session Expiry Interval in seconds.")
	fs.BoolVar(&o.CleanStart, "mqtt.clean-start", o.CleanStart, "Start a clean MQTT session.")
	fs.BoolVar(&o.InsecureSkipVerify, "mqtt.insecure-skip-verify", o.InsecureSkipVerify, "If true, skips the TLS certificate verification.")

	// Topics
	fs.StringVar(&o.TopicRoot, "mqtt.topic-root", o.TopicRoot, "Topic prefix of the vehicle link.")
	fs.StringVar(&o.VehicleID, "mqtt.vehicle-id", o.VehicleID, "Identifier of the vehicle in the topic tree.")

	fs.IntVar(&o.QoS, "mqtt.qos", o.QoS, "QoS of requests and upload chunks.")
	fs.IntVar(&o.ChunkSize, "mqtt.chunk-size", o.ChunkSize, "Size in bytes of an upload chunk.")
}

// Topics returns the topic builder of the configured vehicle.
func (o *MqttOptions) Topics() *topic.Builder {
	return topic.NewBuilder(o.TopicRoot, o.VehicleID)
}

// ToClientConfig maps the options onto a client configuration. The broker
// marks the ground station offline when the connection drops.
func (o *MqttOptions) ToClientConfig() *mqtt.ClientConfig {
	return &mqtt.ClientConfig{
		BrokerURL:          o.Broker,
		Username:           o.Username,
		Password:           o.Password,
		ClientID:           o.ClientID,
		KeepAlive:          uint16(o.KeepAlive.Seconds()),
		SessionExpiry:      o.SessionExpiry,
		ConnectTimeout:     o.ConnectTimeout,
		ReconnectInterval:  o.ReconnectInterval,
		CleanStart:         o.CleanStart,
		InsecureSkipVerify: o.InsecureSkipVerify,
		WillTopic:          o.Topics().Status(),
		WillPayload:        []byte(`{"online":false}`),
		WillQoS:            byte(o.QoS),
		WillRetain:         true,
	}
}
