package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jordigilh/crawlstats/pkg/shared/types"
)

func drain(t *testing.T, ch <-chan types.CaptureRecord) []types.CaptureRecord {
	t.Helper()
	var out []types.CaptureRecord
	for rec := range ch {
		out = append(out, rec)
	}
	return out
}

func TestLoadDecodesJSONArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.json")
	content := `[
		{"url":"https://a.example.com","timestamp":"2024-01-15T00:00:00Z","httpHeaders":{"server":"nginx"}},
		{"url":"https://b.example.com","timestamp":"2024-01-16T00:00:00Z","httpHeaders":{"x-pingback":"https://b.example.com/xmlrpc.php"}}
	]`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	ch, err := New(path).Load(context.Background(), types.DateRange{})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	records := drain(t, ch)
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].URL != "https://a.example.com" {
		t.Errorf("records[0].URL = %q", records[0].URL)
	}
	if records[1].HTTPHeaders["x-pingback"][0] != "https://b.example.com/xmlrpc.php" {
		t.Errorf("records[1].HTTPHeaders[x-pingback] = %v", records[1].HTTPHeaders["x-pingback"])
	}
}

func TestLoadDecodesNDJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.ndjson")
	content := `{"url":"https://a.example.com","timestamp":"2024-01-15T00:00:00Z","httpHeaders":{"server":"nginx"}}
{"url":"https://b.example.com","timestamp":"2024-01-16T00:00:00Z","httpHeaders":{"server":"apache"}}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	ch, err := New(path).Load(context.Background(), types.DateRange{})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	records := drain(t, ch)
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
}

func TestLoadMissingFileReturnsLoadError(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing.json")).Load(context.Background(), types.DateRange{})
	if err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestLoadRespectsCancellation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.ndjson")
	var content string
	for i := 0; i < 100; i++ {
		content += `{"url":"https://a.example.com","timestamp":"2024-01-15T00:00:00Z"}` + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := New(path).Load(ctx, types.DateRange{})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	cancel()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel did not close after cancellation")
		}
	}
}
