package geo

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// Provider resolves an IP address to a country. Used to annotate import
// batch audit rows with the uploader's origin.
type Provider interface {
	Country(ip string) (string, error)
	Close() error
}

// MaxMindProvider implements Provider using a MaxMind GeoLite2 database.
type MaxMindProvider struct {
	reader *geoip2.Reader
}

// NewMaxMindProvider opens the GeoLite2 database at dbPath.
func NewMaxMindProvider(dbPath string) (*MaxMindProvider, error) {
	reader, err := geoip2.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open GeoIP database: %w", err)
	}
	return &MaxMindProvider{reader: reader}, nil
}

// Country returns the ISO country code for an IP address.
func (m *MaxMindProvider) Country(ip string) (string, error) {
	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		return "", fmt.Errorf("invalid IP address: %s", ip)
	}

	record, err := m.reader.Country(parsedIP)
	if err != nil {
		return "", err
	}
	return record.Country.IsoCode, nil
}

// Close closes the GeoIP database.
func (m *MaxMindProvider) Close() error {
	if m.reader != nil {
		return m.reader.Close()
	}
	return nil
}
