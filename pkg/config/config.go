package config

import (
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/mdxtools/mdup/pkg/errcodes"
)

// Credentials are the account and OAuth client details used for the
// password grant. All four are required; a missing value is fatal and is
// never retried.
type Credentials struct {
	Username     string `json:"username" validate:"required"`
	Password     string `json:"password" validate:"required"`
	ClientID     string `json:"client_id" validate:"required"`
	ClientSecret string `json:"client_secret" validate:"required"`
}

// Options control upload behavior.
type Options struct {
	ImagesPerBatch  int    `json:"number_of_images_upload" default:"10" validate:"min=1"`
	UploadRetry     int    `json:"upload_retry" default:"3" validate:"min=1"`
	RatelimitTime   int    `json:"ratelimit_time" default:"2" validate:"min=1"`
	GroupFallbackID string `json:"group_fallback_id" validate:"omitempty,uuid"`
	NumberThreads   int    `json:"number_threads" default:"3" validate:"min=1"`
	Language        string `json:"language" default:"en"`
	Widestrip       bool   `json:"widestrip"`
	Combine         bool   `json:"combine"`
}

// Paths locate the working directories and state files. Relative paths are
// resolved against the current working directory.
type Paths struct {
	UploadsDir    string `json:"uploads_folder" default:"to_upload"`
	UploadedDir   string `json:"uploaded_files" default:"uploaded"`
	NameIDMapFile string `json:"name_id_map_file" default:"name_id_map.json"`
	APIURL        string `json:"api_url" default:"https://api.mangadex.org"`
	AuthURL       string `json:"auth_url" default:"https://auth.mangadex.org/realms/mangadex/protocol/openid-connect"`
	TokenFile     string `json:"token_file" default:".mdauth"`
}

type Config struct {
	Credentials Credentials `json:"credentials"`
	Options     Options     `json:"options"`
	Paths       Paths       `json:"paths"`
}

// RatelimitDuration is the base wait between API calls.
func (cfg *Config) RatelimitDuration() time.Duration {
	return time.Duration(cfg.Options.RatelimitTime) * time.Second
}

// Load reads and validates the configuration file. Defaults are applied
// before decoding so absent fields keep their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config file %s", path)
	}

	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "invalid JSON in config file %s", path)
	}

	cfg.Paths.APIURL = normalizeURL(cfg.Paths.APIURL)
	cfg.Paths.AuthURL = normalizeURL(cfg.Paths.AuthURL)
	cfg.Options.Language = strings.ToLower(cfg.Options.Language)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	validate := validator.New()
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, ve := range verrs {
			if strings.HasPrefix(ve.Namespace(), "Config.Credentials") {
				return errcodes.CredentialsMissing()
			}
		}
	}
	return errors.WithStack(err)
}

func normalizeURL(url string) string {
	url = strings.TrimSuffix(strings.TrimSpace(url), "/")
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "https://" + url
	}
	return url
}
