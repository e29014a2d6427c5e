package reputation

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"

	"github.com/xoelrdgz/ipsentinel/internal/domain"
)

// GeoIPLocator resolves subjects to country and city using a local
// GeoLite2 database file.
type GeoIPLocator struct {
	reader *geoip2.Reader
}

// NewGeoIPLocator opens the mmdb file at path.
func NewGeoIPLocator(path string) (*GeoIPLocator, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening geoip database: %w", err)
	}
	return &GeoIPLocator{reader: reader}, nil
}

func (g *GeoIPLocator) Locate(subject string) (*domain.GeoInfo, error) {
	ip := net.ParseIP(subject)
	if ip == nil {
		return nil, fmt.Errorf("not an IP address: %q", subject)
	}

	record, err := g.reader.City(ip)
	if err != nil {
		return nil, err
	}

	info := &domain.GeoInfo{Country: record.Country.IsoCode}
	if name, ok := record.City.Names["en"]; ok {
		info.City = name
	}
	return info, nil
}

func (g *GeoIPLocator) Close() error {
	return g.reader.Close()
}
