package config

import (
	_ "embed"
	"errors"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"sigs.k8s.io/yaml"
)

var (
	//go:embed default/config.yaml
	defaultConfigData []byte
)

const (
	ConfigurationName = "config.yaml"
)

// ErrNoEventLog is returned when opening the event log of a configuration
// that doesn't keep one.
var ErrNoEventLog = errors.New("event log is disabled")

type Configuration struct {
	configFs afero.Fs

	Prompt  Prompt  `json:"prompt"`
	History History `json:"history"`
	Jobs    Jobs    `json:"jobs"`

	EventLog string `json:"event_log"`
}

type Prompt struct {
	Color                    bool `json:"color"`
	DurationThresholdSeconds int  `json:"duration_threshold_seconds" validate:"gte=0"`
}

// DurationThreshold is the run time a command must exceed before the prompt
// shows it.
func (p Prompt) DurationThreshold() time.Duration {
	return time.Duration(p.DurationThresholdSeconds) * time.Second
}

type History struct {
	Size     int    `json:"size" validate:"gte=1,lte=1000"`
	FileName string `json:"file_name" validate:"required"`
}

type Jobs struct {
	MaxJobs int `json:"max_jobs" validate:"gte=1,lte=4096"`
}

// Validate the configuration for basic semantic errors.
func (c *Configuration) Validate() error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		return name
	})

	return validate.Struct(c)
}

func (c *Configuration) fs() afero.Fs {
	return c.configFs
}

// HasEventLog is true if events should be recorded.
func (c *Configuration) HasEventLog() bool {
	return c.fs() != nil && c.EventLog != ""
}

// OpenEventLog opens the event log in an append only state.
func (c *Configuration) OpenEventLog() (afero.File, error) {
	if !c.HasEventLog() {
		return nil, ErrNoEventLog
	}
	return c.fs().OpenFile(c.EventLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
}

// ReadEventLog opens the event log for reading.
func (c *Configuration) ReadEventLog() (afero.File, error) {
	if !c.HasEventLog() {
		return nil, ErrNoEventLog
	}
	return c.fs().OpenFile(c.EventLog, os.O_RDONLY, 0600)
}

// Default returns the built in configuration. It isn't backed by a
// directory, so it keeps no event log.
func Default() *Configuration {
	return defaultConfig()
}

func defaultConfig() *Configuration {
	var out Configuration
	if err := yaml.UnmarshalStrict(defaultConfigData, &out); err != nil {
		panic(err)
	}
	return &out
}
