// Package clientinfo resolves the crawler's public IP and an optional
// geolocation for it, recorded on every visit.
package clientinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/oschwald/geoip2-golang"
	"go.uber.org/zap"

	"github.com/JakeFAU/webcat-crawler/internal/visit"
)

// DefaultIPEndpoint answers with {"ip": "..."}.
const DefaultIPEndpoint = "https://api.ipify.org?format=json"

// Config controls the lookup.
type Config struct {
	IPEndpoint string
	// GeoIPDB is an optional MaxMind City database path.
	GeoIPDB string
	Timeout time.Duration
}

// Resolver looks up the client identity.
type Resolver struct {
	cfg    Config
	client *http.Client
	geo    cityReader
	closer io.Closer
	logger *zap.Logger
}

type cityReader interface {
	City(ip net.IP) (*geoip2.City, error)
}

// New opens the GeoIP database when configured.
func New(cfg Config, logger *zap.Logger) (*Resolver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.IPEndpoint == "" {
		cfg.IPEndpoint = DefaultIPEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	r := &Resolver{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}, logger: logger}
	if cfg.GeoIPDB != "" {
		db, err := geoip2.Open(cfg.GeoIPDB)
		if err != nil {
			return nil, fmt.Errorf("open geoip database: %w", err)
		}
		r.geo, r.closer = db, db
	}
	return r, nil
}

// Lookup returns the public IP and, when a database is configured, its
// location. A failed lookup degrades to an empty ClientInfo rather than
// failing the run.
func (r *Resolver) Lookup(ctx context.Context) visit.ClientInfo {
	ip, err := r.publicIP(ctx)
	if err != nil {
		r.logger.Warn("client ip lookup failed", zap.Error(err))
		return visit.ClientInfo{}
	}
	info := visit.ClientInfo{IP: ip}
	if r.geo == nil {
		return info
	}
	city, err := r.geo.City(net.ParseIP(ip))
	if err != nil {
		r.logger.Warn("geoip lookup failed", zap.String("ip", ip), zap.Error(err))
		return info
	}
	info.Geo = fromCity(city)
	return info
}

func (r *Resolver) publicIP(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.IPEndpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build ip request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request ip: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ip endpoint returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("read ip response: %w", err)
	}

	var payload struct {
		IP string `json:"ip"`
	}
	ip := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &payload) == nil && payload.IP != "" {
		ip = payload.IP
	}
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("ip endpoint returned %q", ip)
	}
	return ip, nil
}

func fromCity(c *geoip2.City) *visit.Geo {
	g := &visit.Geo{
		Country:     c.Country.Names["en"],
		CountryCode: c.Country.IsoCode,
		City:        c.City.Names["en"],
		Timezone:    c.Location.TimeZone,
		Latitude:    c.Location.Latitude,
		Longitude:   c.Location.Longitude,
	}
	if len(c.Subdivisions) > 0 {
		g.Region = c.Subdivisions[0].Names["en"]
	}
	return g
}

// Close releases the GeoIP database.
func (r *Resolver) Close() error {
	if r.closer == nil {
		return nil
	}
	if err := r.closer.Close(); err != nil {
		return fmt.Errorf("close geoip database: %w", err)
	}
	return nil
}
