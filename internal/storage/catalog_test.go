package storage

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestCatalogAddDeduplicates(t *testing.T) {
	c := NewCatalog()

	if !c.Add("bob", "report.pdf", 1000) {
		t.Fatal("first Add returned false")
	}
	if c.Add("bob", "report.pdf", 2000) {
		t.Fatal("duplicate Add returned true")
	}
	if !c.Add("carol", "report.pdf", 1000) {
		t.Fatal("same file from another peer was rejected")
	}
	if !c.Add("bob", "notes.txt", 10) {
		t.Fatal("another file from the same peer was rejected")
	}

	files := c.List()
	if len(files) != 3 {
		t.Fatalf("catalog holds %d entries, want 3", len(files))
	}
	if files[0].FileSize != 1000 {
		t.Fatalf("duplicate Add changed the entry: %+v", files[0])
	}
}

func TestCatalogConcurrentAdd(t *testing.T) {
	c := NewCatalog()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Add(fmt.Sprintf("peer%d", i%4), "report.pdf", 1000)
		}(i)
	}
	wg.Wait()

	if got := c.Len(); got != 4 {
		t.Fatalf("catalog holds %d entries, want 4", got)
	}
}

func TestCatalogGetOutOfRange(t *testing.T) {
	c := NewCatalog()
	c.Add("bob", "report.pdf", 1000)

	for _, index := range []int{-1, 1, 7} {
		if _, err := c.Get(index); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(%d) = %v, want ErrNotFound", index, err)
		}
		if _, err := c.BeginDownload(index); !errors.Is(err, ErrNotFound) {
			t.Errorf("BeginDownload(%d) = %v, want ErrNotFound", index, err)
		}
	}
}

func TestCatalogDownloadLifecycle(t *testing.T) {
	c := NewCatalog()
	c.Add("bob", "report.pdf", 1000)

	entry, err := c.BeginDownload(0)
	if err != nil || entry.DownloadedBytes != 0 {
		t.Fatalf("BeginDownload = %+v, %v", entry, err)
	}

	c.AddProgress(0, 300)
	if got := c.AddProgress(0, 100); got != 400 {
		t.Fatalf("AddProgress total = %d, want 400", got)
	}
	if c.FinishDownload(0, 1000) {
		t.Fatal("partial download reported complete")
	}

	// an interrupted download resumes where it stopped
	entry, _ = c.BeginDownload(0)
	if entry.DownloadedBytes != 400 || entry.Completed {
		t.Fatalf("resumed entry = %+v, want offset 400", entry)
	}

	c.AddProgress(0, 600)
	if !c.FinishDownload(0, 1000) {
		t.Fatal("full download not reported complete")
	}
	if entry, _ := c.Get(0); !entry.Completed || entry.DownloadedBytes != 1000 {
		t.Fatalf("finished entry = %+v", entry)
	}

	// a completed download starts over
	entry, _ = c.BeginDownload(0)
	if entry.DownloadedBytes != 0 || entry.Completed {
		t.Fatalf("restarted entry = %+v, want offset 0", entry)
	}
}

func TestCatalogRestartDownload(t *testing.T) {
	c := NewCatalog()
	c.Add("bob", "report.pdf", 1000)

	c.BeginDownload(0)
	c.AddProgress(0, 400)
	entry, err := c.RestartDownload(0)
	if err != nil || entry.DownloadedBytes != 0 || entry.Completed {
		t.Fatalf("RestartDownload = %+v, %v", entry, err)
	}
	if _, err := c.RestartDownload(3); !errors.Is(err, ErrNotFound) {
		t.Fatalf("RestartDownload(3) = %v, want ErrNotFound", err)
	}
}

func TestCatalogFinishUpdatesSize(t *testing.T) {
	c := NewCatalog()
	c.Add("bob", "report.pdf", 1000)

	c.BeginDownload(0)
	c.AddProgress(0, 800)
	if !c.FinishDownload(0, 800) {
		t.Fatal("file that shrank to the downloaded size not complete")
	}
	if entry, _ := c.Get(0); entry.FileSize != 800 {
		t.Fatalf("FileSize = %d, want 800", entry.FileSize)
	}
}

func TestCatalogChanged(t *testing.T) {
	c := NewCatalog()
	changed := c.Changed()

	select {
	case <-changed:
		t.Fatal("Changed fired before any Add")
	default:
	}

	c.Add("bob", "report.pdf", 1000)
	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("Changed did not fire after Add")
	}

	next := c.Changed()
	c.Add("bob", "report.pdf", 1000)
	select {
	case <-next:
		t.Fatal("Changed fired for a duplicate")
	default:
	}
}
