// Package seed loads the initial channel set from a yaml file and
// creates any channel the store does not know yet.
package seed

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/aurachat/aurad/internal/domain"
	"github.com/aurachat/aurad/internal/store"
)

type seedFile struct {
	Channels []struct {
		Name string `yaml:"name"`
	} `yaml:"channels"`
}

// Channels applies the seed file. A missing file is not an error; the
// server just starts with whatever the store already holds. Matching is
// by case-insensitive name so re-running is idempotent.
func Channels(ctx context.Context, path string, st store.ChannelStore) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("module", "seed").Str("path", path).Msg("no seed file, skipping")
			return nil
		}
		return fmt.Errorf("seed: read %s: %w", path, err)
	}

	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("seed: parse %s: %w", path, err)
	}

	existing, err := st.ListChannels(ctx)
	if err != nil {
		return fmt.Errorf("seed: list channels: %w", err)
	}
	known := make(map[string]struct{}, len(existing))
	for _, ch := range existing {
		known[strings.ToLower(ch.Name)] = struct{}{}
	}

	created := 0
	for _, entry := range f.Channels {
		name := strings.TrimSpace(entry.Name)
		if name == "" {
			continue
		}
		if _, ok := known[strings.ToLower(name)]; ok {
			continue
		}
		ch := &domain.Channel{
			ID:        uuid.NewString(),
			Name:      name,
			CreatedAt: time.Now().UTC(),
		}
		if err := ch.Validate(); err != nil {
			log.Warn().Err(err).Str("module", "seed").Str("name", name).Msg("skipping invalid seed channel")
			continue
		}
		if err := st.CreateChannel(ctx, ch); err != nil {
			return fmt.Errorf("seed: create channel %q: %w", name, err)
		}
		known[strings.ToLower(name)] = struct{}{}
		created++
	}
	log.Info().Str("module", "seed").Int("created", created).Msg("channel seed applied")
	return nil
}
