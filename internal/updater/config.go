package updater

import (
	"fmt"
	"net/http"
	"os"

	"github.com/autopeer-io/skypeer/internal/server"
	"github.com/autopeer-io/skypeer/internal/update"
	"github.com/autopeer-io/skypeer/internal/update/core"
	"github.com/autopeer-io/skypeer/internal/update/download"
	"github.com/autopeer-io/skypeer/internal/update/driver"
	"github.com/autopeer-io/skypeer/internal/update/link"
	releaseserver "github.com/autopeer-io/skypeer/internal/update/server"
	"github.com/autopeer-io/skypeer/internal/update/sim"
	"github.com/autopeer-io/skypeer/pkg/mqtt"
	"github.com/autopeer-io/skypeer/pkg/options"
)

// Config is the complete configuration of the ground station updater.
type Config struct {
	UpdateOptions *options.UpdateOptions
	MqttOptions   *options.MqttOptions
	S3Options     *options.S3Options
	ADBOptions    *options.ADBOptions
	HttpOptions   *options.HttpOptions
	GrpcOptions   *options.GrpcOptions
}

// DriverConfig maps the update options onto the driver configuration.
func (cfg *Config) DriverConfig() driver.Config {
	o := cfg.UpdateOptions
	return driver.Config{
		ConnectAttempts: o.ConnectAttempts,
		RetryInterval:   o.RetryInterval,
		ConnectTimeout:  o.ConnectTimeout,
		DownloadTimeout: o.DownloadTimeout,
		UploadTimeout:   o.UploadTimeout,
		FlashTimeout:    o.FlashTimeout,
		VerifyTimeout:   o.VerifyTimeout,
		VerifyInterval:  o.VerifyInterval,
		MinBatteryLevel: o.MinBatteryLevel,
		WorkDir:         o.WorkDir,
	}
}

// NewUpdater wires the links, the release server and the control endpoints.
func (cfg *Config) NewUpdater() (*Updater, error) {
	if err := os.MkdirAll(cfg.UpdateOptions.WorkDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to prepare work dir: %w", err)
	}

	var (
		deps  update.Deps
		links []starter
	)
	if cfg.UpdateOptions.Simulate {
		fleet := sim.NewFleet()
		deps = update.Deps{
			Transport:  fleet.Vehicle,
			Server:     fleet.Server,
			Downloader: fleet.Server,
			Uploader:   fleet.Vehicle,
		}
	} else {
		air, err := cfg.newMQTTLink()
		if err != nil {
			return nil, fmt.Errorf("failed to init mqtt link: %w", err)
		}
		ground, err := link.NewADBLink(cfg.adbConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to init adb link: %w", err)
		}
		router := link.NewRouter().
			Route(air, core.ComponentFirmware).
			Route(ground, core.ComponentApps)

		releases, err := cfg.newReleaseServer()
		if err != nil {
			return nil, fmt.Errorf("failed to init release server: %w", err)
		}

		deps = update.Deps{
			Transport:  router,
			Server:     releases,
			Downloader: download.NewHTTPDownloader(&http.Client{}),
			Uploader:   router,
		}
		links = append(links, air)
	}

	orch := update.New(deps, cfg.DriverConfig())
	return &Updater{
		orch:  orch,
		links: links,
		servers: server.NewManager(&server.Config{
			HttpOptions: cfg.HttpOptions,
			GrpcOptions: cfg.GrpcOptions,
		}, orch),
	}, nil
}

func (cfg *Config) newMQTTLink() (*link.MQTTLink, error) {
	mqttConfig := cfg.MqttOptions.ToClientConfig()
	if mqttConfig.ClientID == "" {
		mqttConfig.ClientID = fmt.Sprintf("speer-update-%s", cfg.MqttOptions.VehicleID)
	}

	client, err := mqtt.NewClient(mqttConfig)
	if err != nil {
		return nil, err
	}
	return link.NewMQTTLink(client, cfg.MqttOptions.Topics(),
		link.WithQoS(cfg.MqttOptions.QoS),
		link.WithChunkSize(cfg.MqttOptions.ChunkSize),
	), nil
}

func (cfg *Config) adbConfig() link.ADBConfig {
	o := cfg.ADBOptions
	return link.ADBConfig{
		Host:       o.Host,
		Port:       o.Port,
		Serial:     o.Serial,
		StagingDir: o.StagingDir,
		Packages: map[core.Component]string{
			core.ComponentDatapilot:  o.DatapilotPackage,
			core.ComponentUpdaterApp: o.UpdaterAppPackage,
		},
	}
}

func (cfg *Config) newReleaseServer() (core.ReleaseServer, error) {
	if cfg.UpdateOptions.ReleaseServer == options.ReleaseServerHTTP {
		return releaseserver.NewHTTPServer(cfg.UpdateOptions.ManifestURL, &http.Client{Timeout: cfg.UpdateOptions.ConnectTimeout})
	}

	o := cfg.S3Options
	bucket, err := releaseserver.NewMinIOBucket(releaseserver.S3Config{
		Endpoint:           o.Endpoint,
		AccessKeyID:        o.AccessKeyID,
		SecretAccessKey:    o.SecretAccessKey,
		UseSSL:             o.UseSSL,
		InsecureSkipVerify: o.InsecureSkipVerify,
		Bucket:             o.BucketName,
		Region:             o.Region,
		ManifestKey:        o.ManifestKey,
		URLExpiry:          o.URLExpiry,
	})
	if err != nil {
		return nil, err
	}
	return releaseserver.NewS3Server(bucket, o.ManifestKey, o.URLExpiry), nil
}
