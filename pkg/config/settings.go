package config

import (
	"time"

	"github.com/go-go-golems/chatstate/pkg/reconcile"
	"github.com/go-go-golems/chatstate/pkg/security"
	"github.com/go-go-golems/chatstate/pkg/store"
	"github.com/go-go-golems/chatstate/pkg/transport"
	"github.com/huandu/go-clone"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

var ErrInvalidSettings = errors.New("invalid settings")

const (
	TransportEcho = "echo"
	TransportHTTP = "http"

	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

type TransportSettings struct {
	Type     string            `mapstructure:"type" yaml:"type"`
	Endpoint string            `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Timeout  time.Duration     `mapstructure:"timeout" yaml:"timeout,omitempty"`
	Headers  map[string]string `mapstructure:"headers" yaml:"headers,omitempty"`
	// EchoDelay is the time the echo transport takes per character.
	EchoDelay time.Duration `mapstructure:"echo-delay" yaml:"echo-delay,omitempty"`
	// AllowHTTP and AllowLocalNetworks relax the endpoint check of the http
	// transport, for development servers.
	AllowHTTP          bool `mapstructure:"allow-http" yaml:"allow-http,omitempty"`
	AllowLocalNetworks bool `mapstructure:"allow-local-networks" yaml:"allow-local-networks,omitempty"`
}

func (t TransportSettings) endpointPolicy() security.EndpointPolicy {
	return security.EndpointPolicy{
		AllowHTTP:          t.AllowHTTP,
		AllowLocalNetworks: t.AllowLocalNetworks,
	}
}

type StoreSettings struct {
	Type string `mapstructure:"type" yaml:"type"`
	Path string `mapstructure:"path" yaml:"path,omitempty"`
}

// Settings configures a chat session: which reconciliation strategy runs,
// which transport it talks to and where transcripts are kept.
type Settings struct {
	Strategy  string            `mapstructure:"strategy" yaml:"strategy"`
	Transport TransportSettings `mapstructure:"transport" yaml:"transport"`
	Store     StoreSettings     `mapstructure:"store" yaml:"store"`
}

func NewSettings() *Settings {
	return &Settings{
		Strategy: reconcile.StrategyDelegated,
		Transport: TransportSettings{
			Type:      TransportEcho,
			Timeout:   60 * time.Second,
			Headers:   map[string]string{},
			EchoDelay: 20 * time.Millisecond,
		},
		Store: StoreSettings{
			Type: StoreMemory,
		},
	}
}

// SetDefaults registers the defaults of NewSettings with v.
func SetDefaults(v *viper.Viper) {
	d := NewSettings()
	v.SetDefault("strategy", d.Strategy)
	v.SetDefault("transport.type", d.Transport.Type)
	v.SetDefault("transport.timeout", d.Transport.Timeout)
	v.SetDefault("transport.echo-delay", d.Transport.EchoDelay)
	v.SetDefault("transport.allow-http", d.Transport.AllowHTTP)
	v.SetDefault("transport.allow-local-networks", d.Transport.AllowLocalNetworks)
	v.SetDefault("store.type", d.Store.Type)
}

// LoadFromViper decodes the settings held by v and validates them.
func LoadFromViper(v *viper.Viper) (*Settings, error) {
	s := NewSettings()
	err := v.Unmarshal(s, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, errors.Wrap(err, "could not decode settings")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) Clone() *Settings {
	return clone.Clone(s).(*Settings)
}

func (s *Settings) Validate() error {
	if _, err := reconcile.StrategyFromName(s.Strategy); err != nil {
		return errors.Wrap(ErrInvalidSettings, err.Error())
	}
	switch s.Transport.Type {
	case TransportEcho:
	case TransportHTTP:
		if s.Transport.Endpoint == "" {
			return errors.Wrap(ErrInvalidSettings, "http transport needs an endpoint")
		}
		if err := security.ValidateEndpoint(s.Transport.Endpoint, s.Transport.endpointPolicy()); err != nil {
			return errors.Wrap(ErrInvalidSettings, err.Error())
		}
	default:
		return errors.Wrapf(ErrInvalidSettings, "unknown transport %q", s.Transport.Type)
	}
	switch s.Store.Type {
	case StoreMemory:
	case StoreSQLite:
		if s.Store.Path == "" {
			return errors.Wrap(ErrInvalidSettings, "sqlite store needs a path")
		}
	default:
		return errors.Wrapf(ErrInvalidSettings, "unknown store %q", s.Store.Type)
	}
	return nil
}

func (s *Settings) NewStrategy() (reconcile.Strategy, error) {
	return reconcile.StrategyFromName(s.Strategy)
}

// OpenStore opens the configured transcript store. The caller closes it.
func (s *Settings) OpenStore() (store.TranscriptStore, error) {
	switch s.Store.Type {
	case StoreSQLite:
		dsn, err := store.DSNForFile(s.Store.Path)
		if err != nil {
			return nil, err
		}
		return store.NewSQLiteStore(dsn)
	case StoreMemory, "":
		return store.NewInMemoryStore(), nil
	default:
		return nil, errors.Wrapf(ErrInvalidSettings, "unknown store %q", s.Store.Type)
	}
}

// NewClient builds the configured transport client. The echo transport
// truncates st on regenerate, the way a server would.
func (s *Settings) NewClient(st store.TranscriptStore) (transport.Client, error) {
	switch s.Transport.Type {
	case TransportHTTP:
		if err := security.ValidateEndpoint(s.Transport.Endpoint, s.Transport.endpointPolicy()); err != nil {
			return nil, err
		}
		options := []transport.HTTPOption{transport.WithTimeout(s.Transport.Timeout)}
		for k, v := range s.Transport.Headers {
			options = append(options, transport.WithHeader(k, v))
		}
		return transport.NewHTTPClient(s.Transport.Endpoint, options...), nil
	case TransportEcho, "":
		c := transport.NewEchoClient()
		c.TimePerCharacter = s.Transport.EchoDelay
		c.Store = st
		return c, nil
	default:
		return nil, errors.Wrapf(ErrInvalidSettings, "unknown transport %q", s.Transport.Type)
	}
}
