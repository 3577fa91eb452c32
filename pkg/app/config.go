package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/autopeer-io/skypeer/pkg/log"
)

const configFlagName = "config"

// envPrefix turns "speer-update" into "SPEER_UPDATE".
func envPrefix(name string) string {
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// addConfigFlag registers --config on fs.
func addConfigFlag(fs *pflag.FlagSet, name string) {
	fs.StringP(configFlagName, "c", "",
		fmt.Sprintf("Read configuration from the specified file. Supports YAML, JSON and TOML. "+
			"Every flag can also be set as %s_<FLAG> with dots and dashes replaced by underscores.", envPrefix(name)))
}

// loadDotEnv exports the variables of envFile when it exists. Variables
// already set in the environment win.
func loadDotEnv(envFile string) error {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}
	return nil
}

// newViper layers the config file and the environment under the flags of fs.
func newViper(name, configFile string, flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix(name))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(flags); err != nil {
		return nil, err
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}
	return v, nil
}

// watchLogLevel applies log.level from the config file whenever it changes.
func watchLogLevel(v *viper.Viper) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		level := v.GetString("log.level")
		if err := log.SetLevel(level); err != nil {
			log.Error(err, "Ignoring config change", "file", e.Name)
			return
		}
		log.Info("Config reloaded", "file", e.Name, "log.level", level)
	})
	v.WatchConfig()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
