package source

import (
	"crypto/tls"
	"net/http"
	"time"
)

const defaultRemoteTimeout = 30 * time.Second

// RemoteTarget describes how to reach an iLO management processor.
type RemoteTarget struct {
	// Endpoint is the scheme and authority, e.g. https://ilo-host:443.
	Endpoint  string
	Username  string
	Password  string
	VerifySSL bool
	Timeout   time.Duration
}

func (t RemoteTarget) httpClient() *http.Client {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: !t.VerifySSL} //nolint:gosec
	return &http.Client{Transport: transport, Timeout: timeout}
}
