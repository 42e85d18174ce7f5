package cqlmigrate

import (
	"crypto/tls"
	"crypto/x509"
	"io/ioutil"

	"github.com/pkg/errors"
)

// NewTLSConfig builds a client TLS config from PEM files. caPath is
// required; keyPath and certPath may both be empty when the server does not
// ask for a client certificate.
func NewTLSConfig(keyPath, certPath, caPath, serverName string) (*tls.Config, error) {
	rootCertPool := x509.NewCertPool()
	pem, err := ioutil.ReadFile(caPath)
	if err != nil {
		return nil, errors.Wrap(err, "read server ca file")
	}
	if ok := rootCertPool.AppendCertsFromPEM(pem); !ok {
		return nil, errors.New("failed to append to pem")
	}
	conf := &tls.Config{
		RootCAs:    rootCertPool,
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
	}
	if keyPath == "" && certPath == "" {
		return conf, nil
	}
	certs, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, errors.Wrap(err, "load x509 key pair")
	}
	conf.Certificates = []tls.Certificate{certs}
	return conf, nil
}
