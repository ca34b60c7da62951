package compress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sandahl/tilevault/internal/store"
	"github.com/sandahl/tilevault/internal/store/keys"
)

// Settings is the single process-wide compression settings record.
// CacheProfile is pinned: read-through cached tiles always use the high
// profile so panning never degrades imagery the user did not ask to shrink.
type Settings struct {
	DefaultProfile Profile `json:"defaultProfile"`
	CacheProfile   Profile `json:"cacheProfile"`
}

func defaultSettings() Settings {
	return Settings{DefaultProfile: ProfileBalanced, CacheProfile: ProfileHigh}
}

// LoadSettings reads the settings record, lazily writing the default on
// first use.
func LoadSettings(ctx context.Context, st store.Interface) (Settings, error) {
	raw, err := st.Get(ctx, keys.CompressionSettings)
	if errors.Is(err, store.ErrNotFound) {
		s := defaultSettings()
		if err := SaveSettings(ctx, st, s); err != nil {
			return Settings{}, err
		}
		return s, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("load compression settings: %w", err)
	}

	var s Settings
	if err := json.Unmarshal(raw, &s); err != nil {
		return Settings{}, fmt.Errorf("decode compression settings: %w", err)
	}
	if !s.DefaultProfile.Valid() {
		s.DefaultProfile = ProfileBalanced
	}
	s.CacheProfile = ProfileHigh
	return s, nil
}

// SaveSettings validates and upserts the settings record.
func SaveSettings(ctx context.Context, st store.Interface, s Settings) error {
	if !s.DefaultProfile.Valid() {
		return fmt.Errorf("invalid compression profile %q", s.DefaultProfile)
	}
	s.CacheProfile = ProfileHigh
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode compression settings: %w", err)
	}
	if err := st.Set(ctx, keys.CompressionSettings, raw); err != nil {
		return fmt.Errorf("save compression settings: %w", err)
	}
	return nil
}
