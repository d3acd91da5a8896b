package muxlinkd

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfigRoundTrip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	c := DefaultConfig()
	require.NoError(t, SaveConfig(c, p))
	c2, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, c, *c2)
}

func TestMakeParams(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	t.Run("Default", func(t *testing.T) {
		params, err := MakeParams(configPath, DefaultConfig())
		require.NoError(t, err)
		require.NotNil(t, params.Listen)
		require.Nil(t, params.Connect)
		require.Len(t, params.Routes, 1)
		require.Equal(t, "default", params.Routes[0].Name)
		require.Equal(t, DefaultAdminEndpoint, params.AdminAddr)
	})
	t.Run("Connect", func(t *testing.T) {
		params, err := MakeParams(configPath, Config{
			Connect: &ConnectSpec{Addr: "127.0.0.1:2660", Reconnect: 2 * time.Second},
			Routes: []RouteSpec{
				{Frontend: tcpEndpoint("127.0.0.1:9000"), Backend: channelEndpoint()},
			},
		})
		require.NoError(t, err)
		require.NotNil(t, params.Connect)
		require.Equal(t, 2*time.Second, params.Connect.Reconnect)
		require.Equal(t, "route0", params.Routes[0].Name)
	})
	t.Run("BothTransports", func(t *testing.T) {
		_, err := MakeParams(configPath, Config{
			Connect: &ConnectSpec{Addr: "127.0.0.1:2660"},
			Listen:  &ListenSpec{Addr: "127.0.0.1:2660"},
		})
		require.Error(t, err)
	})
	t.Run("NoTransport", func(t *testing.T) {
		_, err := MakeParams(configPath, Config{})
		require.Error(t, err)
	})
	t.Run("ChannelBackendNeedsConnect", func(t *testing.T) {
		_, err := MakeParams(configPath, Config{
			Listen: &ListenSpec{Addr: "127.0.0.1:2660"},
			Routes: []RouteSpec{
				{Frontend: tcpEndpoint("127.0.0.1:9000"), Backend: channelEndpoint()},
			},
		})
		require.Error(t, err)
	})
	t.Run("OneChannelFrontend", func(t *testing.T) {
		_, err := MakeParams(configPath, Config{
			Listen: &ListenSpec{Addr: "127.0.0.1:2660"},
			Routes: []RouteSpec{
				{Name: "a", Frontend: channelEndpoint(), Backend: tcpEndpoint("127.0.0.1:9000")},
				{Name: "b", Frontend: channelEndpoint(), Backend: tcpEndpoint("127.0.0.1:9001")},
			},
		})
		require.Error(t, err)
	})
	t.Run("DuplicateRouteName", func(t *testing.T) {
		_, err := MakeParams(configPath, Config{
			Listen: &ListenSpec{Addr: "127.0.0.1:2660"},
			Routes: []RouteSpec{
				{Name: "a", Frontend: tcpEndpoint("127.0.0.1:9000"), Backend: tcpEndpoint("127.0.0.1:9001")},
				{Name: "a", Frontend: tcpEndpoint("127.0.0.1:9002"), Backend: tcpEndpoint("127.0.0.1:9003")},
			},
		})
		require.Error(t, err)
	})
	t.Run("BadTCPAddr", func(t *testing.T) {
		_, err := MakeParams(configPath, Config{
			Listen: &ListenSpec{Addr: "127.0.0.1:2660"},
			Routes: []RouteSpec{
				{Frontend: tcpEndpoint("nonsense"), Backend: tcpEndpoint("127.0.0.1:9000")},
			},
		})
		require.Error(t, err)
	})
	t.Run("EmptyEndpoint", func(t *testing.T) {
		_, err := MakeParams(configPath, Config{
			Listen: &ListenSpec{Addr: "127.0.0.1:2660"},
			Routes: []RouteSpec{
				{Frontend: EndpointSpec{}, Backend: tcpEndpoint("127.0.0.1:9000")},
			},
		})
		require.Error(t, err)
	})
}

func TestMakeParamsTLS(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	certPEM, keyPEM := generateCertPEM(t)
	for name, data := range map[string][]byte{
		"ca.pem":   certPEM,
		"cert.pem": certPEM,
		"key.pem":  keyPEM,
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
	}

	t.Run("Client", func(t *testing.T) {
		params, err := MakeParams(configPath, Config{
			Connect: &ConnectSpec{
				Addr: "127.0.0.1:2660",
				TLS: &TLSClientSpec{
					CAFile:     "./ca.pem",
					CertFile:   "./cert.pem",
					KeyFile:    "./key.pem",
					ServerName: "muxlink.test",
				},
			},
		})
		require.NoError(t, err)
		tc := params.Connect.TLS
		require.NotNil(t, tc)
		require.Equal(t, "muxlink.test", tc.ServerName)
		require.NotNil(t, tc.RootCAs)
		require.Len(t, tc.Certificates, 1)
	})
	t.Run("Server", func(t *testing.T) {
		params, err := MakeParams(configPath, Config{
			Listen: &ListenSpec{
				Addr: "127.0.0.1:2660",
				TLS: &TLSServerSpec{
					CertFile:     "./cert.pem",
					KeyFile:      "./key.pem",
					ClientCAFile: "./ca.pem",
				},
			},
		})
		require.NoError(t, err)
		tc := params.Listen.TLS
		require.NotNil(t, tc)
		require.Len(t, tc.Certificates, 1)
		require.NotNil(t, tc.ClientCAs)
		require.Equal(t, tls.RequireAndVerifyClientCert, tc.ClientAuth)
	})
	t.Run("MissingFile", func(t *testing.T) {
		_, err := MakeParams(configPath, Config{
			Connect: &ConnectSpec{
				Addr: "127.0.0.1:2660",
				TLS:  &TLSClientSpec{CAFile: "./does-not-exist.pem"},
			},
		})
		require.Error(t, err)
	})
}

func TestEndpointSpecString(t *testing.T) {
	require.Equal(t, "tcp://127.0.0.1:80", tcpEndpoint("127.0.0.1:80").String())
	require.Equal(t, "unix:///run/app.sock", unixEndpoint("/run/app.sock").String())
	require.Equal(t, "channel://", channelEndpoint().String())
}

func tcpEndpoint(addr string) EndpointSpec {
	return EndpointSpec{TCP: (*TCPEndpointSpec)(&addr)}
}

func unixEndpoint(p string) EndpointSpec {
	return EndpointSpec{UNIX: (*UNIXEndpointSpec)(&p)}
}

func channelEndpoint() EndpointSpec {
	return EndpointSpec{Channel: &struct{}{}}
}

func generateCertPEM(t testing.TB) (certPEM, keyPEM []byte) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "muxlink.test"},
		DNSNames:              []string{"muxlink.test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		IsCA:                  true,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	require.NoError(t, err)
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM
}
