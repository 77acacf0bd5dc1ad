package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pitabwire/frame/config"
)

type SessionConfig struct {
	config.ConfigurationDefault

	// Document service configuration - access checks and annotation
	// persistence are delegated there
	DocumentServiceURI        string `envDefault:"http://127.0.0.1:7020" env:"DOCUMENT_SERVICE_URI"`
	DocumentServiceTimeoutSec int    `envDefault:"5"                     env:"DOCUMENT_SERVICE_TIMEOUT_SEC"`

	// Shared secret for verifying identity tokens locally
	JWTVerificationSecret string `envDefault:"" env:"JWT_VERIFICATION_SECRET"`

	// Connection management
	MaxConnections       int `envDefault:"100000" env:"MAX_CONNECTIONS"`
	ConnectionTimeoutSec int `envDefault:"300"    env:"CONNECTION_TIMEOUT_SEC"`
	HeartbeatIntervalSec int `envDefault:"30"     env:"HEARTBEAT_INTERVAL_SEC"`

	// Rate limiting
	MaxEventsPerSecond int `envDefault:"100" env:"MAX_EVENTS_PER_SECOND"`
	MaxEventBurst      int `envDefault:"20"  env:"MAX_EVENT_BURST"`

	// Operation replay window per document
	OperationLogSize int `envDefault:"100" env:"OPERATION_LOG_SIZE"`

	// Cache configuration (Redis or similar)
	// Presence snapshots are written here so other services can answer
	// who-is-online queries without touching the live session path
	CacheName            string `envDefault:"presenceCache"       env:"CACHE_NAME"`
	CacheURI             string `envDefault:"mem://presence"      env:"CACHE_URI"`
	CacheCredentialsFile string `envDefault:""                    env:"CACHE_CREDENTIALS_FILE"`

	// Queue for fire-and-forget session notifications
	QueueNotificationName string `envDefault:"session.notification"       env:"QUEUE_NOTIFICATION_NAME"`
	QueueNotificationURI  string `envDefault:"mem://session.notification" env:"QUEUE_NOTIFICATION_URI"`
}

// HeartbeatInterval returns the heartbeat interval as a duration.
func (c *SessionConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSec) * time.Second
}

// ConnectionTimeout returns the connection timeout as a duration.
func (c *SessionConfig) ConnectionTimeout() time.Duration {
	return time.Duration(c.ConnectionTimeoutSec) * time.Second
}

// DocumentServiceTimeout returns the document service call timeout as a
// duration.
func (c *SessionConfig) DocumentServiceTimeout() time.Duration {
	return time.Duration(c.DocumentServiceTimeoutSec) * time.Second
}

// Validate checks that the configuration is valid.
// Returns an error if any validation fails.
func (c *SessionConfig) Validate() error {
	var errs []error

	if c.DocumentServiceURI == "" {
		errs = append(errs, errors.New("DocumentServiceURI cannot be empty"))
	}

	if c.JWTVerificationSecret == "" {
		errs = append(errs, errors.New("JWTVerificationSecret cannot be empty"))
	}

	if c.MaxConnections < 1 {
		errs = append(errs, errors.New("MaxConnections must be >= 1"))
	}

	if c.ConnectionTimeoutSec <= 0 {
		errs = append(errs, errors.New("ConnectionTimeoutSec must be > 0"))
	}

	if c.HeartbeatIntervalSec <= 0 {
		errs = append(errs, errors.New("HeartbeatIntervalSec must be > 0"))
	}

	if c.ConnectionTimeoutSec <= c.HeartbeatIntervalSec {
		errs = append(errs, fmt.Errorf("ConnectionTimeoutSec (%d) must be > HeartbeatIntervalSec (%d)",
			c.ConnectionTimeoutSec, c.HeartbeatIntervalSec))
	}

	if c.MaxEventsPerSecond <= 0 {
		errs = append(errs, errors.New("MaxEventsPerSecond must be > 0"))
	}

	if c.MaxEventBurst <= 0 {
		errs = append(errs, errors.New("MaxEventBurst must be > 0"))
	}

	if c.OperationLogSize <= 0 {
		errs = append(errs, errors.New("OperationLogSize must be > 0"))
	}

	if err := validateCacheURI(c.CacheURI, "CacheURI"); err != nil {
		errs = append(errs, err)
	}

	if err := validateQueueURI(c.QueueNotificationURI, "QueueNotificationURI"); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// validateCacheURI checks that a cache URI has a valid scheme.
func validateCacheURI(uri, name string) error {
	if uri == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}

	validSchemes := []string{"redis://", "nats://", "mem://", "memory://"}
	for _, scheme := range validSchemes {
		if strings.HasPrefix(uri, scheme) {
			return nil
		}
	}

	return fmt.Errorf("%s has invalid scheme (must be one of: %s): %s", name, strings.Join(validSchemes, ", "), uri)
}

// validateQueueURI checks that a queue URI has a valid scheme.
func validateQueueURI(uri, name string) error {
	if uri == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}

	validSchemes := []string{"mem://", "redis://", "amqp://", "nats://", "kafka://"}
	for _, scheme := range validSchemes {
		if strings.HasPrefix(uri, scheme) {
			return nil
		}
	}

	return fmt.Errorf("%s has invalid scheme (must be one of: %s): %s", name, strings.Join(validSchemes, ", "), uri)
}
