package fetch

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func testPage(url string) *PageContent {
	return &PageContent{URL: url, Title: "t", CleanedText: "text of " + url}
}

func TestCache_FIFOEviction(t *testing.T) {
	c := NewCache(DefaultCacheSize, time.Hour)

	for i := 1; i <= 501; i++ {
		key := fmt.Sprintf("https://example.com/%d", i)
		c.Set(key, testPage(key), 0)
	}

	if _, ok := c.Get("https://example.com/1"); ok {
		t.Error("first inserted key should have been evicted")
	}
	if _, ok := c.Get("https://example.com/501"); !ok {
		t.Error("501st key should be present")
	}
	if s := c.Stats(); s.Size != 500 || s.MaxSize != 500 {
		t.Errorf("Stats() = %+v, want {500 500}", s)
	}
}

func TestCache_EvictionIgnoresAccess(t *testing.T) {
	c := NewCache(3, time.Hour)
	for _, k := range []string{"a", "b", "c"} {
		c.Set(k, testPage(k), 0)
	}

	// Reading "a" must not protect it: eviction is by insertion order.
	c.Get("a")
	c.Set("d", testPage("d"), 0)

	if _, ok := c.Get("a"); ok {
		t.Error("a should be evicted despite recent access")
	}
	for _, k := range []string{"b", "c", "d"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("%s missing", k)
		}
	}
}

func TestCache_OverwriteKeepsPosition(t *testing.T) {
	c := NewCache(2, time.Hour)
	c.Set("a", testPage("a"), 0)
	c.Set("b", testPage("b"), 0)

	updated := testPage("a")
	updated.Title = "updated"
	c.Set("a", updated, 0)

	if s := c.Stats(); s.Size != 2 {
		t.Fatalf("overwrite changed size to %d", s.Size)
	}
	got, _ := c.Get("a")
	if got.Title != "updated" {
		t.Errorf("Title = %q, want updated", got.Title)
	}

	// "a" is still the oldest insertion and goes first.
	c.Set("c", testPage("c"), 0)
	if _, ok := c.Get("a"); ok {
		t.Error("overwritten key should keep its original insertion position")
	}
}

func TestCache_TTL(t *testing.T) {
	c := NewCache(10, time.Hour)
	c.Set("k", testPage("k"), 100*time.Millisecond)

	if _, ok := c.Get("k"); !ok {
		t.Fatal("entry should be present immediately")
	}
	time.Sleep(150 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatal("entry should be expired after 150ms")
	}
	if s := c.Stats(); s.Size != 0 {
		t.Errorf("expired entry not removed, size %d", s.Size)
	}
}

func TestCache_ExpiryBoundary(t *testing.T) {
	c := NewCache(10, time.Minute)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set("k", testPage("k"), 0)
	now = now.Add(time.Minute - time.Nanosecond)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("entry should live until storedAt+ttl")
	}
	now = now.Add(time.Nanosecond)
	if _, ok := c.Get("k"); ok {
		t.Fatal("entry should expire at exactly storedAt+ttl")
	}
}

func TestCache_NoAliasing(t *testing.T) {
	c := NewCache(10, time.Hour)
	date := time.Date(2023, 6, 15, 12, 0, 0, 0, time.UTC)
	age := 10
	in := &PageContent{URL: "u", Title: "orig", Metadata: Metadata{ArchiveDate: &date, ArchiveAgeInDays: &age}}
	c.Set("u", in, 0)

	in.Title = "mutated"
	*in.Metadata.ArchiveAgeInDays = 99

	out, _ := c.Get("u")
	if out.Title != "orig" || *out.Metadata.ArchiveAgeInDays != 10 {
		t.Fatalf("cache aliased caller value: %+v", out)
	}

	out.Title = "mutated again"
	*out.Metadata.ArchiveDate = time.Time{}
	again, _ := c.Get("u")
	if again.Title != "orig" || !again.Metadata.ArchiveDate.Equal(date) {
		t.Fatalf("cache aliased returned value: %+v", again)
	}
}

func TestCache_Clear(t *testing.T) {
	c := NewCache(0, 0)
	c.Set("a", testPage("a"), 0)
	c.Set("b", testPage("b"), 0)
	c.Clear()

	if s := c.Stats(); s.Size != 0 || s.MaxSize != DefaultCacheSize {
		t.Errorf("Stats() after Clear = %+v", s)
	}
	if _, ok := c.Get("a"); ok {
		t.Error("Get after Clear should miss")
	}
}

func TestCache_Concurrent(t *testing.T) {
	c := NewCache(50, time.Hour)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", (g*200+i)%120)
				c.Set(key, testPage(key), 0)
				c.Get(key)
			}
		}()
	}
	wg.Wait()

	if s := c.Stats(); s.Size > 50 {
		t.Errorf("size %d exceeds capacity", s.Size)
	}
}
