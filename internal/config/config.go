// Package config loads the collector process's configuration from a YAML
// file merged over built-in defaults, grounded on the teacher's apply.go
// gopkg.in/yaml.v3 usage for resource files. No command-line flag
// overrides a loaded field.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/telemetry-collector/pkg/model"
)

// Config is the top-level process configuration (§A.3).
type Config struct {
	// DeploymentID identifies this collector instance. It seeds the
	// encryption key guarding device credentials and the control API's
	// certificate authority, so both survive a restart without a
	// separately-stored secret.
	DeploymentID string `yaml:"deployment_id"`

	Logging  LoggingConfig  `yaml:"logging"`
	Queue    QueueConfig    `yaml:"queue"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Redis    RedisConfig    `yaml:"redis"`
	Store    StoreConfig    `yaml:"store"`
	Control  ControlConfig  `yaml:"control"`
	Devices  []DeviceConfig `yaml:"devices"`

	VirtualPoints []VirtualPointConfig `yaml:"virtual_points,omitempty"`
	AlarmRules    []AlarmRuleConfig    `yaml:"alarm_rules,omitempty"`
}

type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	JSON  bool   `yaml:"json"`
}

type QueueConfig struct {
	Capacity         int     `yaml:"capacity"`
	HighWaterFraction float64 `yaml:"high_water_fraction"`
	BatchSize        int     `yaml:"batch_size"`
	BatchTimeoutMS   int     `yaml:"batch_timeout_ms"`
	Workers          int     `yaml:"workers"`
}

type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type StoreConfig struct {
	BoltPath string `yaml:"bolt_path"`
}

type ControlConfig struct {
	ListenAddr string `yaml:"listen_addr"`

	// TLSEnabled turns on mutual TLS for the control listener, backed by
	// an in-process CertAuthority rooted at CertDir.
	TLSEnabled bool   `yaml:"tls_enabled"`
	CertDir    string `yaml:"cert_dir"`
}

// DeviceConfig describes one polled field device (§4.1-§4.6).
type DeviceConfig struct {
	ID       string `yaml:"id"`
	TenantID string `yaml:"tenant_id"`
	Protocol string `yaml:"protocol"` // modbus_tcp, modbus_rtu, bacnet, mqtt

	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`

	SerialDevice string `yaml:"serial_device,omitempty"`
	BaudRate     int    `yaml:"baud_rate,omitempty"`
	SlaveID      int    `yaml:"slave_id,omitempty"`

	PollIntervalMS int `yaml:"poll_interval_ms,omitempty"`

	MQTTBrokerURLs    []string               `yaml:"mqtt_broker_urls,omitempty"`
	MQTTClientID      string                 `yaml:"mqtt_client_id,omitempty"`
	MQTTSubscriptions []MQTTSubscriptionConfig `yaml:"mqtt_subscriptions,omitempty"`
	MQTTProduction    MQTTProductionConfig   `yaml:"mqtt_production,omitempty"`

	PollGroups []PollGroupConfig `yaml:"poll_groups,omitempty"`

	BACnetPoints []BACnetPointConfig `yaml:"bacnet_points,omitempty"`
}

// MQTTPointBindingConfig maps an MQTT subscription's extracted value onto
// a collector point (§4.6).
type MQTTPointBindingConfig struct {
	PointID     string  `yaml:"point_id"`
	DataType    string  `yaml:"data_type"` // bool, int64, double, string
	Factor      float64 `yaml:"factor,omitempty"`
	ScaleOffset float64 `yaml:"scale_offset,omitempty"`
}

// MQTTSubscriptionConfig binds one topic pattern to a json_path extraction
// fanned out to every bound point (§4.6).
type MQTTSubscriptionConfig struct {
	Topic    string                   `yaml:"topic"`
	QoS      byte                     `yaml:"qos,omitempty"`
	JSONPath string                   `yaml:"json_path,omitempty"`
	Points   []MQTTPointBindingConfig `yaml:"points"`
}

// MQTTProductionConfig configures the MQTT worker's production-mode
// publish path (§4.6's priority queue/circuit breaker/offline buffer).
type MQTTProductionConfig struct {
	Enabled                 bool     `yaml:"enabled,omitempty"`
	PublishQueueCapacity    int      `yaml:"publish_queue_capacity,omitempty"`
	OfflineBufferCapacity   int      `yaml:"offline_buffer_capacity,omitempty"`
	BreakerFailureThreshold int      `yaml:"breaker_failure_threshold,omitempty"`
	BreakerCooldownMS       int      `yaml:"breaker_cooldown_ms,omitempty"`
	DedupCapacity           int      `yaml:"dedup_capacity,omitempty"`
	BackupBrokerURLs        []string `yaml:"backup_broker_urls,omitempty"`
}

// BACnetPointConfig maps one BACnet object/property pair to a collector
// point (§4.5).
type BACnetPointConfig struct {
	PointID     string  `yaml:"point_id"`
	ObjectType  string  `yaml:"object_type"` // analog_input, analog_output, analog_value, binary_input, binary_output, binary_value, multi_state_input, multi_state_output, multi_state_value
	Instance    uint32  `yaml:"instance"`
	DataType    string  `yaml:"data_type"` // bool, int64, double, string
	Factor      float64 `yaml:"factor,omitempty"`
	ScaleOffset float64 `yaml:"scale_offset,omitempty"`
	COV         bool    `yaml:"cov,omitempty"`
}

// PollGroupConfig is a set of registers/points polled together at one
// interval (§4.3).
type PollGroupConfig struct {
	Name           string               `yaml:"name"`
	FunctionCode   int                  `yaml:"function_code"`
	StartAddress   int                  `yaml:"start_address"`
	Count          int                  `yaml:"count"`
	PollIntervalMS int                  `yaml:"poll_interval_ms"`
	Bindings       []PointBindingConfig `yaml:"bindings,omitempty"`
}

// PointBindingConfig maps one register offset within a poll group onto a
// collector point id (§4.3).
type PointBindingConfig struct {
	PointID     string  `yaml:"point_id"`
	Offset      int     `yaml:"offset"`
	DataType    string  `yaml:"data_type"` // bool, int64, double, string
	Words       int     `yaml:"words,omitempty"`
	Factor      float64 `yaml:"factor,omitempty"`
	ScaleOffset float64 `yaml:"scale_offset,omitempty"`
}

// VPInputConfig binds a formula variable to a data point, another virtual
// point, or a literal constant (§4.9).
type VPInputConfig struct {
	Name     string  `yaml:"name"`
	Kind     string  `yaml:"kind"` // data_point, virtual_point, constant
	RefID    string  `yaml:"ref_id,omitempty"`
	Constant float64 `yaml:"constant,omitempty"`
}

// VirtualPointConfig declares a derived point computed from a formula over
// its inputs (§4.9).
type VirtualPointConfig struct {
	ID       string          `yaml:"id"`
	TenantID string          `yaml:"tenant_id"`
	Scope    string          `yaml:"scope"` // global, site, device
	Formula  string          `yaml:"formula"`
	DataType string          `yaml:"data_type"`
	Unit     string          `yaml:"unit,omitempty"`
	Inputs   []VPInputConfig `yaml:"inputs"`
	Trigger  string          `yaml:"trigger,omitempty"` // on_change, periodic, manual
	CacheTTLSeconds int      `yaml:"cache_ttl_seconds,omitempty"`
}

// ToModel converts a VirtualPointConfig into the runtime model.VirtualPoint
// the Virtual-Point Engine registers.
func (c VirtualPointConfig) ToModel() model.VirtualPoint {
	inputs := make([]model.VPInput, 0, len(c.Inputs))
	for _, in := range c.Inputs {
		inputs = append(inputs, model.VPInput{
			Name:     in.Name,
			Kind:     model.InputKind(in.Kind),
			RefID:    in.RefID,
			Constant: model.DoubleValue(in.Constant),
		})
	}
	trigger := model.TriggerMode(c.Trigger)
	if trigger == "" {
		trigger = model.TriggerOnChange
	}
	return model.VirtualPoint{
		ID:              c.ID,
		TenantID:        c.TenantID,
		Scope:           model.VPScope(c.Scope),
		Formula:         c.Formula,
		DataType:        model.ScalarType(c.DataType),
		Unit:            c.Unit,
		Inputs:          inputs,
		Trigger:         trigger,
		CacheTTLSeconds: c.CacheTTLSeconds,
	}
}

// AnalogParamsConfig holds analog-rule threshold configuration.
type AnalogParamsConfig struct {
	HH           *float64 `yaml:"hh,omitempty"`
	H            *float64 `yaml:"h,omitempty"`
	L            *float64 `yaml:"l,omitempty"`
	LL           *float64 `yaml:"ll,omitempty"`
	Deadband     float64  `yaml:"deadband,omitempty"`
	RateOfChange *float64 `yaml:"rate_of_change,omitempty"`
}

// DigitalParamsConfig holds digital-rule configuration.
type DigitalParamsConfig struct {
	Trigger string `yaml:"trigger,omitempty"` // on_true, on_false, on_change, on_rising, on_falling
}

// ScriptParamsConfig holds script-rule configuration.
type ScriptParamsConfig struct {
	ConditionScript string `yaml:"condition_script,omitempty"`
	MessageScript   string `yaml:"message_script,omitempty"`
}

// AlarmRuleConfig declares a user-defined alarm rule (§4.10-§4.13).
type AlarmRuleConfig struct {
	ID       string `yaml:"id"`
	TenantID string `yaml:"tenant_id"`
	Name     string `yaml:"name"`

	TargetType string `yaml:"target_type"` // device, data_point, virtual_point, group
	TargetID   string `yaml:"target_id,omitempty"`
	GroupKey   string `yaml:"group_key,omitempty"`

	Type string `yaml:"type"` // analog, digital, script, communication, quality, compound

	Analog  AnalogParamsConfig  `yaml:"analog,omitempty"`
	Digital DigitalParamsConfig `yaml:"digital,omitempty"`
	Script  ScriptParamsConfig  `yaml:"script,omitempty"`

	Severity string `yaml:"severity,omitempty"` // info, low, medium, high, critical
	Priority int    `yaml:"priority,omitempty"`

	MessageTemplate string `yaml:"message_template,omitempty"`

	AutoAcknowledge           bool `yaml:"auto_acknowledge,omitempty"`
	AutoAcknowledgeTimeoutSec int  `yaml:"auto_acknowledge_timeout_sec,omitempty"`
	AutoClear                 bool `yaml:"auto_clear,omitempty"`
	Latched                   bool `yaml:"latched,omitempty"`

	NotificationChannels []string `yaml:"notification_channels,omitempty"`
	Enabled              bool     `yaml:"enabled"`
	TemplateID           string   `yaml:"template_id,omitempty"`
}

// ToModel converts an AlarmRuleConfig into the runtime model.AlarmRule the
// Rule Cache loads.
func (c AlarmRuleConfig) ToModel() model.AlarmRule {
	return model.AlarmRule{
		ID:       c.ID,
		TenantID: c.TenantID,
		Name:     c.Name,

		TargetType: model.TargetType(c.TargetType),
		TargetID:   c.TargetID,
		GroupKey:   c.GroupKey,

		Type: model.RuleType(c.Type),

		Analog: model.AnalogParams{
			HH: c.Analog.HH, H: c.Analog.H, L: c.Analog.L, LL: c.Analog.LL,
			Deadband:     c.Analog.Deadband,
			RateOfChange: c.Analog.RateOfChange,
		},
		Digital: model.DigitalParams{Trigger: model.DigitalTrigger(c.Digital.Trigger)},
		Script: model.ScriptParams{
			ConditionScript: c.Script.ConditionScript,
			MessageScript:   c.Script.MessageScript,
		},

		Severity: model.ParseSeverity(c.Severity),
		Priority: c.Priority,

		MessageTemplate: c.MessageTemplate,

		AutoAcknowledge:        c.AutoAcknowledge,
		AutoAcknowledgeTimeout: time.Duration(c.AutoAcknowledgeTimeoutSec) * time.Second,
		AutoClear:              c.AutoClear,
		Latched:                c.Latched,

		NotificationChannels: c.NotificationChannels,
		Enabled:              c.Enabled,
		TemplateID:           c.TemplateID,
	}
}

// Default returns a Config with every field at its documented default.
func Default() Config {
	return Config{
		DeploymentID: "collector",
		Logging:      LoggingConfig{Level: "info"},
		Queue: QueueConfig{
			Capacity:          100_000,
			HighWaterFraction: 0.9,
			BatchSize:         500,
			BatchTimeoutMS:    200,
			Workers:           4,
		},
		Metrics: MetricsConfig{ListenAddr: ":9090"},
		Redis:   RedisConfig{Addr: "localhost:6379"},
		Store:   StoreConfig{BoltPath: "collector.db"},
		Control: ControlConfig{ListenAddr: ":9091", CertDir: ".collector/certs"},
	}
}

// Load reads and parses a YAML configuration file, merging it over the
// documented defaults. A missing field in the file keeps its default.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the invariants Load can't express through zero values
// alone: every device needs a non-empty, unique id and one of the known
// protocols, so a bad device entry is rejected before the collector starts.
func (c Config) Validate() error {
	seen := make(map[string]bool, len(c.Devices))
	for _, d := range c.Devices {
		if d.ID == "" {
			return fmt.Errorf("config: device with empty id")
		}
		if seen[d.ID] {
			return fmt.Errorf("config: duplicate device id %q", d.ID)
		}
		seen[d.ID] = true

		switch d.Protocol {
		case "modbus_tcp", "modbus_rtu", "bacnet", "mqtt":
		default:
			return fmt.Errorf("config: device %q has unknown protocol %q", d.ID, d.Protocol)
		}
	}
	return nil
}

// BatchTimeout returns the queue batch timeout as a time.Duration.
func (q QueueConfig) BatchTimeout() time.Duration {
	return time.Duration(q.BatchTimeoutMS) * time.Millisecond
}

// PollInterval returns a device's poll interval as a time.Duration,
// defaulting to 1s when unset.
func (d DeviceConfig) PollInterval() time.Duration {
	if d.PollIntervalMS <= 0 {
		return time.Second
	}
	return time.Duration(d.PollIntervalMS) * time.Millisecond
}
