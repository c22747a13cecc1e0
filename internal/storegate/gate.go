package storegate

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
)

// Errors returned when digital-menu intake is refused.
var (
	ErrStoreClosed = errors.New("store is closed")
	ErrOutOfRange  = errors.New("location outside delivery range")
)

// Gate decides whether the public digital menu may accept an order right now,
// optionally checking the customer's reported location.
type Gate interface {
	Allow(ctx context.Context, lat, lng float64) error
}

// SettingsStore reads gate configuration. Satisfied by *database.Queries.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
}

// SettingsGate reads the open/closed flag and the maximum distance from the
// settings table on each check, so staff toggles take effect immediately.
type SettingsGate struct {
	store     SettingsStore
	originLat float64
	originLng float64
}

func NewSettingsGate(store SettingsStore, originLat, originLng float64) *SettingsGate {
	return &SettingsGate{store: store, originLat: originLat, originLng: originLng}
}

func (g *SettingsGate) Allow(ctx context.Context, lat, lng float64) error {
	open, err := g.store.GetSetting(ctx, "store_open")
	if err != nil || !strings.EqualFold(open, "true") {
		return ErrStoreClosed
	}

	// No location reported (table-side QR access) skips the distance check.
	if lat == 0 && lng == 0 {
		return nil
	}

	maxStr, err := g.store.GetSetting(ctx, "max_delivery_distance_km")
	if err != nil {
		return nil
	}
	maxKm, err := strconv.ParseFloat(maxStr, 64)
	if err != nil || maxKm <= 0 {
		return nil
	}

	if haversineKm(g.originLat, g.originLng, lat, lng) > maxKm {
		return ErrOutOfRange
	}
	return nil
}

// haversineKm is a single great-circle distance check; precision beyond that
// is out of scope.
func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadiusKm = 6371.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
