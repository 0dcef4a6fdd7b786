package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"fmt"
	"math/big"
	"net"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

// iceServerHosts extracts the bare hostnames (no scheme, no port, no query)
// out of a set of ICE server URLs, for use as extra TLS SANs. A server an
// operator reaches through its TURN hostname should not see a certificate
// naming only the listen address.
func iceServerHosts(servers []webrtc.ICEServer) []string {
	var hosts []string
	for _, srv := range servers {
		for _, rawURL := range srv.URLs {
			if h := iceURLHost(rawURL); h != "" {
				hosts = append(hosts, h)
			}
		}
	}
	return hosts
}

// iceURLHost strips the turn:/turns:/stun:/stuns: scheme and any
// transport query string from an ICE server URL and returns just the
// host, since these URLs use scheme:host:port rather than the scheme://
// form net/url expects.
func iceURLHost(rawURL string) string {
	s := rawURL
	for _, scheme := range []string{"turns:", "turn:", "stuns:", "stun:"} {
		if strings.HasPrefix(s, scheme) {
			s = s[len(scheme):]
			break
		}
	}
	if i := strings.IndexByte(s, '?'); i >= 0 {
		s = s[:i]
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return host
	}
	return s
}

// generateTLSConfig creates a self-signed TLS certificate for the HTTPS server.
// Returns the tls.Config, the SHA-256 fingerprint, and any error.
// validity controls how long the certificate is valid for. hostname, if
// non-empty, is used as the Common Name and added to the DNS SANs; otherwise
// defaultCN (the operator's configured display name) is used as the CN.
// extraSANs are additional hostnames worth covering, e.g. a configured TURN
// server's address, so that an operator who reaches this server through
// that name doesn't see a SAN mismatch.
func generateTLSConfig(validity time.Duration, hostname, defaultCN string, extraSANs []string) (*tls.Config, string, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, "", fmt.Errorf("[tls] generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, "", fmt.Errorf("[tls] generate serial: %w", err)
	}

	cn := defaultCN
	if cn == "" {
		cn = "lanrelay"
	}
	if hostname != "" {
		cn = hostname
	}

	sans := []string{"localhost"}
	if hostname != "" && hostname != "localhost" {
		sans = append(sans, hostname)
	}
	for _, san := range extraSANs {
		if san == "" || san == "localhost" || san == hostname {
			continue
		}
		dup := false
		for _, existing := range sans {
			if existing == san {
				dup = true
				break
			}
		}
		if !dup {
			sans = append(sans, san)
		}
	}

	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(validity),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              sans,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, "", fmt.Errorf("[tls] create certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, "", fmt.Errorf("[tls] parse certificate: %w", err)
	}

	fp := sha256.Sum256(certDER)
	fingerprint := hex.EncodeToString(fp[:])

	tlsCert := tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  key,
		Leaf:        cert,
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
	}

	return tlsConfig, fingerprint, nil
}
