package certificates

import (
	"crypto/tls"
	"fmt"
	"sync"
)

// Authority memoizes one leaf certificate per hostname for the process lifetime.
// Concurrent first access for the same hostname performs exactly one generation;
// every caller observes the identical pair.
type Authority struct {
	generator *Generator

	mu    sync.Mutex
	hosts map[string]*hostEntry
}

type hostEntry struct {
	ready chan struct{}
	cert  tls.Certificate
	err   error
}

// NewAuthority creates a certificate authority backed by the given generator
func NewAuthority(generator *Generator) *Authority {
	return &Authority{
		generator: generator,
		hosts:     make(map[string]*hostEntry),
	}
}

// CertificateFor returns the leaf certificate for a hostname, generating it on
// first use. A generation failure is returned to every waiter of that attempt
// and is not cached, so a later call may retry.
func (a *Authority) CertificateFor(host string) (tls.Certificate, error) {
	host = cleanHost(host)

	a.mu.Lock()
	entry, ok := a.hosts[host]
	if ok {
		a.mu.Unlock()
		<-entry.ready
		return entry.cert, entry.err
	}

	entry = &hostEntry{ready: make(chan struct{})}
	a.hosts[host] = entry
	a.mu.Unlock()

	gc, err := a.generator.GenerateCertificateForHost(host)
	if err != nil {
		entry.err = fmt.Errorf("failed to generate certificate for %s: %w", host, err)
	} else {
		entry.cert, entry.err = gc.TLSCertificate()
	}
	close(entry.ready)

	if entry.err != nil {
		a.mu.Lock()
		delete(a.hosts, host)
		a.mu.Unlock()
	}

	return entry.cert, entry.err
}

// CachedHosts returns the hostnames with an issued certificate
func (a *Authority) CachedHosts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	hosts := make([]string, 0, len(a.hosts))
	for host := range a.hosts {
		hosts = append(hosts, host)
	}
	return hosts
}
