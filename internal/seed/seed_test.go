package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aurachat/aurad/internal/store"
)

func writeSeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "channels.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	return path
}

func TestChannelsIdempotent(t *testing.T) {
	st := store.NewMemory()
	path := writeSeed(t, "channels:\n  - name: General\n  - name: Music\n")
	ctx := context.Background()

	if err := Channels(ctx, path, st); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := Channels(ctx, path, st); err != nil {
		t.Fatalf("second run: %v", err)
	}

	list, _ := st.ListChannels(ctx)
	if len(list) != 2 {
		t.Fatalf("channels = %+v", list)
	}
}

func TestChannelsMatchesCaseInsensitively(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	_ = Channels(ctx, writeSeed(t, "channels:\n  - name: general\n"), st)
	_ = Channels(ctx, writeSeed(t, "channels:\n  - name: GENERAL\n"), st)

	list, _ := st.ListChannels(ctx)
	if len(list) != 1 {
		t.Fatalf("channels = %+v", list)
	}
}

func TestChannelsMissingFileIsNoop(t *testing.T) {
	st := store.NewMemory()
	if err := Channels(context.Background(), "/nonexistent/channels.yaml", st); err != nil {
		t.Fatalf("missing file: %v", err)
	}
}

func TestChannelsSkipsBlankNames(t *testing.T) {
	st := store.NewMemory()
	_ = Channels(context.Background(), writeSeed(t, "channels:\n  - name: \"  \"\n  - name: Real\n"), st)
	list, _ := st.ListChannels(context.Background())
	if len(list) != 1 || list[0].Name != "Real" {
		t.Fatalf("channels = %+v", list)
	}
}
