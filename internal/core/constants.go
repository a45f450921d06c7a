// Package core provides shared constants and configuration for the Sol CLI.
package core

import (
	"os"
	"path/filepath"
	"time"
)

// Remote endpoints
const (
	ImageBaseURL  = "https://sdo.gsfc.nasa.gov/assets/img/browse"
	APForecastURL = "https://services.swpc.noaa.gov/text/45-day-ap-forecast.txt"
	GeoAlertURL   = "https://services.swpc.noaa.gov/text/wwv.txt"
)

// Cache components, each a directory directly under the cache root.
const (
	ImageComponent  = "sdo"
	ReportComponent = "swpc"
	ReportsDir      = "reports"
)

// Date formats
const (
	DayKeyFmt  = "20060102"
	APIDateFmt = "2006-01-02"
)

// Listing cache
const (
	ListingSuffix          = "_listing.json"
	ListingRefreshInterval = 15 * time.Minute
)

// Environment overrides
const (
	CacheRootEnvVar = "SOL_CACHE_ROOT"
	LogLevelEnvVar  = "SOL_LOG_LEVEL"
	ConfigEnvVar    = "SOL_CONFIG"
)

// cacheRootOverride is set from SOL_CACHE_ROOT at startup.
var cacheRootOverride string

func init() {
	if root := os.Getenv(CacheRootEnvVar); root != "" {
		cacheRootOverride = root
	}
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return home
}

// CacheRoot returns the default cache directory path.
func CacheRoot() string {
	if cacheRootOverride != "" {
		return cacheRootOverride
	}
	return filepath.Join(homeDir(), ".sol", "cache")
}

// ConfigPath returns the default config file location.
func ConfigPath() string {
	if p := os.Getenv(ConfigEnvVar); p != "" {
		return p
	}
	return filepath.Join(homeDir(), ".sol", "config.yaml")
}

// Version is the current CLI version.
const Version = "0.3.0"
