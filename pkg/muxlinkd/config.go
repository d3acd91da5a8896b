package muxlinkd

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultLinkEndpoint is where a listening daemon accepts transport
	// connections from its peer.
	DefaultLinkEndpoint = "0.0.0.0:2660"
	// DefaultAdminEndpoint serves the admin HTTP API.
	DefaultAdminEndpoint = "127.0.0.1:2661"
)

// ConnectSpec tells the daemon to dial a remote listener and keep one
// connection alive.
type ConnectSpec struct {
	Addr      string         `yaml:"addr"`
	TLS       *TLSClientSpec `yaml:"tls,omitempty"`
	Keepalive time.Duration  `yaml:"keepalive,omitempty"`
	Reconnect time.Duration  `yaml:"reconnect,omitempty"`
}

// ListenSpec tells the daemon to accept transport connections from peers.
type ListenSpec struct {
	Addr      string         `yaml:"addr"`
	TLS       *TLSServerSpec `yaml:"tls,omitempty"`
	Keepalive time.Duration  `yaml:"keepalive,omitempty"`
}

type TLSClientSpec struct {
	CAFile             string `yaml:"ca_file,omitempty"`
	CertFile           string `yaml:"cert_file,omitempty"`
	KeyFile            string `yaml:"key_file,omitempty"`
	ServerName         string `yaml:"server_name,omitempty"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify,omitempty"`
}

type TLSServerSpec struct {
	CertFile     string `yaml:"cert_file"`
	KeyFile      string `yaml:"key_file"`
	ClientCAFile string `yaml:"client_ca_file,omitempty"`
}

// RouteSpec connects a frontend, where streams come from, to a backend,
// where they are served.
type RouteSpec struct {
	Name     string       `yaml:"name,omitempty"`
	Frontend EndpointSpec `yaml:"frontend"`
	Backend  EndpointSpec `yaml:"backend"`
}

type EndpointSpec struct {
	TCP     *TCPEndpointSpec  `yaml:"tcp,omitempty"`
	UNIX    *UNIXEndpointSpec `yaml:"unix,omitempty"`
	Channel *struct{}         `yaml:"channel,omitempty"`
}

type TCPEndpointSpec string
type UNIXEndpointSpec string

func (s EndpointSpec) String() string {
	switch {
	case s.TCP != nil:
		return "tcp://" + string(*s.TCP)
	case s.UNIX != nil:
		return "unix://" + string(*s.UNIX)
	case s.Channel != nil:
		return "channel://"
	default:
		return "empty"
	}
}

type Config struct {
	Connect *ConnectSpec `yaml:"connect,omitempty"`
	Listen  *ListenSpec  `yaml:"listen,omitempty"`
	Routes  []RouteSpec  `yaml:"routes"`

	AdminEndpoint   string `yaml:"admin_endpoint"`
	ChannelQueueLen int    `yaml:"channel_queue_len,omitempty"`
}

func (c Config) GetAdminAddr() string {
	if c.AdminEndpoint == "" {
		return DefaultAdminEndpoint
	}
	return c.AdminEndpoint
}

// MakeParams validates c and loads everything it references from the
// filesystem. Paths beginning with "./" are resolved relative to
// configPath.
func MakeParams(configPath string, c Config) (*Params, error) {
	// transport
	var connect *ConnectParams
	var listen *ListenParams
	switch {
	case c.Connect != nil && c.Listen != nil:
		return nil, errors.Errorf("config cannot both connect and listen")
	case c.Connect != nil:
		tlsConfig, err := makeClientTLS(configPath, c.Connect.TLS)
		if err != nil {
			return nil, err
		}
		connect = &ConnectParams{
			Addr:      c.Connect.Addr,
			TLS:       tlsConfig,
			Keepalive: c.Connect.Keepalive,
			Reconnect: c.Connect.Reconnect,
		}
	case c.Listen != nil:
		tlsConfig, err := makeServerTLS(configPath, c.Listen.TLS)
		if err != nil {
			return nil, err
		}
		listen = &ListenParams{
			Addr:      c.Listen.Addr,
			TLS:       tlsConfig,
			Keepalive: c.Listen.Keepalive,
		}
	default:
		return nil, errors.Errorf("empty transport spec")
	}
	// routes
	routes := make([]RouteSpec, len(c.Routes))
	names := map[string]struct{}{}
	channelFrontends := 0
	for i, r := range c.Routes {
		if r.Name == "" {
			r.Name = fmt.Sprintf("route%d", i)
		}
		if _, exists := names[r.Name]; exists {
			return nil, errors.Errorf("duplicate route name %q", r.Name)
		}
		names[r.Name] = struct{}{}
		if err := checkEndpointSpec(r.Frontend); err != nil {
			return nil, errors.Wrapf(err, "route %q frontend", r.Name)
		}
		if err := checkEndpointSpec(r.Backend); err != nil {
			return nil, errors.Wrapf(err, "route %q backend", r.Name)
		}
		if r.Backend.Channel != nil && connect == nil {
			return nil, errors.Errorf("route %q: a channel backend needs a connect transport", r.Name)
		}
		if r.Frontend.Channel != nil {
			channelFrontends++
		}
		routes[i] = r
	}
	// Inbound channels all land in one queue, so only one route can
	// consume them.
	if channelFrontends > 1 {
		return nil, errors.Errorf("at most one route can have a channel frontend")
	}

	params := &Params{
		Connect:         connect,
		Listen:          listen,
		Routes:          routes,
		AdminAddr:       c.GetAdminAddr(),
		ChannelQueueLen: c.ChannelQueueLen,
	}
	return params, nil
}

func checkEndpointSpec(spec EndpointSpec) error {
	set := 0
	if spec.TCP != nil {
		set++
		if _, err := netip.ParseAddrPort(string(*spec.TCP)); err != nil {
			return err
		}
	}
	if spec.UNIX != nil {
		set++
	}
	if spec.Channel != nil {
		set++
	}
	if set != 1 {
		return errors.Errorf("endpoint needs exactly one of tcp, unix, channel")
	}
	return nil
}

func makeClientTLS(configPath string, spec *TLSClientSpec) (*tls.Config, error) {
	if spec == nil {
		return nil, nil
	}
	tc := &tls.Config{
		ServerName:         spec.ServerName,
		InsecureSkipVerify: spec.InsecureSkipVerify,
	}
	if spec.CAFile != "" {
		pool, err := loadCertPool(resolvePath(configPath, spec.CAFile))
		if err != nil {
			return nil, err
		}
		tc.RootCAs = pool
	}
	if spec.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(resolvePath(configPath, spec.CertFile), resolvePath(configPath, spec.KeyFile))
		if err != nil {
			return nil, err
		}
		tc.Certificates = []tls.Certificate{cert}
	}
	return tc, nil
}

func makeServerTLS(configPath string, spec *TLSServerSpec) (*tls.Config, error) {
	if spec == nil {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(resolvePath(configPath, spec.CertFile), resolvePath(configPath, spec.KeyFile))
	if err != nil {
		return nil, err
	}
	tc := &tls.Config{Certificates: []tls.Certificate{cert}}
	if spec.ClientCAFile != "" {
		pool, err := loadCertPool(resolvePath(configPath, spec.ClientCAFile))
		if err != nil {
			return nil, err
		}
		tc.ClientCAs = pool
		tc.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return tc, nil
}

func loadCertPool(p string) (*x509.CertPool, error) {
	pemData, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemData) {
		return nil, errors.Errorf("no certificates in %q", p)
	}
	return pool, nil
}

func resolvePath(configPath, p string) string {
	if strings.HasPrefix(p, "./") {
		return filepath.Join(filepath.Dir(configPath), p)
	}
	return p
}

func DefaultConfig() Config {
	return Config{
		Listen:        &ListenSpec{Addr: DefaultLinkEndpoint},
		AdminEndpoint: DefaultAdminEndpoint,
		Routes: []RouteSpec{
			{
				Name:     "default",
				Frontend: EndpointSpec{Channel: &struct{}{}},
				Backend:  EndpointSpec{TCP: (*TCPEndpointSpec)(strPtr("127.0.0.1:8080"))},
			},
		},
	}
}

func LoadConfig(p string) (*Config, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	c := &Config{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return c, nil
}

func SaveConfig(config Config, p string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

func strPtr(x string) *string {
	return &x
}
