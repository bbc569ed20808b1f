package discovery

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// cachedTriplet is the on-disk shape of the "last known triplet" the
// client persists so a reconnect can try the previous ports directly
// before falling back to a fresh negotiation round-trip.
type cachedTriplet struct {
	Host    string  `yaml:"host"`
	Triplet Triplet `yaml:"triplet"`
}

// LoadCachedTriplet reads the last known triplet for host from path. It
// returns ok=false (no error) if the cache file is absent, empty, or
// was recorded for a different host.
func LoadCachedTriplet(path, host string) (Triplet, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Triplet{}, false, nil
		}
		return Triplet{}, false, fmt.Errorf("discovery: read port cache: %w", err)
	}

	var cached cachedTriplet
	if err := yaml.Unmarshal(data, &cached); err != nil {
		return Triplet{}, false, fmt.Errorf("discovery: decode port cache: %w", err)
	}
	if cached.Host != host || cached.Triplet.RPC == 0 {
		return Triplet{}, false, nil
	}
	return cached.Triplet, true, nil
}

// SaveCachedTriplet persists the triplet negotiated for host, creating
// the parent directory if needed.
func SaveCachedTriplet(path, host string, triplet Triplet) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("discovery: create port cache dir: %w", err)
	}

	data, err := yaml.Marshal(cachedTriplet{Host: host, Triplet: triplet})
	if err != nil {
		return fmt.Errorf("discovery: encode port cache: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("discovery: write port cache: %w", err)
	}
	return nil
}
