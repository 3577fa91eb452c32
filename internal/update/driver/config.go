package driver

import (
	"os"
	"time"
)

// Config holds the attempt budget and the per-phase deadlines of a driver.
type Config struct {
	// ConnectAttempts bounds the attempts made to reach the component and the
	// update server.
	ConnectAttempts int
	RetryInterval   time.Duration
	// ConnectTimeout applies to every single request on the link.
	ConnectTimeout  time.Duration
	DownloadTimeout time.Duration
	UploadTimeout   time.Duration
	FlashTimeout    time.Duration
	VerifyTimeout   time.Duration
	VerifyInterval  time.Duration
	// MinBatteryLevel is the charge in percent required before flashing.
	MinBatteryLevel int
	// WorkDir stages downloaded payloads.
	WorkDir string
}

func DefaultConfig() Config {
	return Config{
		ConnectAttempts: 3,
		RetryInterval:   500 * time.Millisecond,
		ConnectTimeout:  5 * time.Second,
		DownloadTimeout: 10 * time.Minute,
		UploadTimeout:   10 * time.Minute,
		FlashTimeout:    5 * time.Minute,
		VerifyTimeout:   3 * time.Minute,
		VerifyInterval:  2 * time.Second,
		MinBatteryLevel: 30,
		WorkDir:         os.TempDir(),
	}
}
