package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func testMessage(tenantID, groupID, msgID int64) *Message {
	return &Message{
		TenantID:   tenantID,
		GroupID:    groupID,
		MsgID:      msgID,
		SenderID:   42,
		SenderName: "alice",
		Text:       "hello",
		Timestamp:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestInsertMessageIdempotent(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	inserted, err := st.InsertMessage(ctx, testMessage(1, 10, 100))
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if !inserted {
		t.Fatal("first insert reported duplicate")
	}

	inserted, err = st.InsertMessage(ctx, testMessage(1, 10, 100))
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if inserted {
		t.Fatal("duplicate insert reported as new")
	}

	count, err := st.MessageCount(ctx, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}

func TestSameMsgIDAcrossTenantsAndGroups(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	// The same msg_id in different groups and different tenants is three
	// distinct rows.
	for _, pair := range [][2]int64{{1, 10}, {1, 11}, {2, 10}} {
		inserted, err := st.InsertMessage(ctx, testMessage(pair[0], pair[1], 100))
		if err != nil {
			t.Fatal(err)
		}
		if !inserted {
			t.Fatalf("tenant %d group %d: expected insert", pair[0], pair[1])
		}
	}
}

func TestWatermarkMonotonic(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	wm, err := st.Watermark(ctx, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if wm != 0 {
		t.Fatalf("fresh watermark = %d, want 0", wm)
	}

	if err := st.AdvanceWatermark(ctx, 1, 10, 50); err != nil {
		t.Fatal(err)
	}
	if err := st.AdvanceWatermark(ctx, 1, 10, 30); err != nil {
		t.Fatal(err)
	}
	wm, _ = st.Watermark(ctx, 1, 10)
	if wm != 50 {
		t.Fatalf("watermark rewound to %d, want 50", wm)
	}

	if err := st.AdvanceWatermark(ctx, 1, 10, 80); err != nil {
		t.Fatal(err)
	}
	wm, _ = st.Watermark(ctx, 1, 10)
	if wm != 80 {
		t.Fatalf("watermark = %d, want 80", wm)
	}

	// Other groups are unaffected.
	wm, _ = st.Watermark(ctx, 1, 11)
	if wm != 0 {
		t.Fatalf("unrelated group watermark = %d, want 0", wm)
	}
}

func TestRecordLinkAggregates(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 3; i++ {
		if err := st.RecordLink(ctx, 1, "hash1", "https://example.com/a", "Group A", now.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatal(err)
		}
	}
	if err := st.RecordLink(ctx, 1, "hash1", "https://example.com/a", "Group B", now); err != nil {
		t.Fatal(err)
	}

	l, err := st.GetLink(ctx, 1, "hash1")
	if err != nil {
		t.Fatal(err)
	}
	if l.Count != 4 {
		t.Errorf("count = %d, want 4", l.Count)
	}
	if len(l.GroupTitles) != 2 {
		t.Errorf("group titles = %v, want 2 entries", l.GroupTitles)
	}
	if l.LastSeen.Before(l.FirstSeen) {
		t.Error("last_seen before first_seen")
	}
}

func TestRecordLinkGroupTitleSampleBounded(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	now := time.Now()

	titles := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}
	for _, title := range titles {
		if err := st.RecordLink(ctx, 1, "h", "https://example.com", title, now); err != nil {
			t.Fatal(err)
		}
	}
	l, err := st.GetLink(ctx, 1, "h")
	if err != nil {
		t.Fatal(err)
	}
	if len(l.GroupTitles) != maxLinkGroupTitles {
		t.Errorf("sample size = %d, want %d", len(l.GroupTitles), maxLinkGroupTitles)
	}
	if l.Count != int64(len(titles)) {
		t.Errorf("count = %d, want %d", l.Count, len(titles))
	}
}

func TestRecordLinkConcurrent(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	now := time.Now()

	const writers = 8
	const perWriter = 5
	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				if err := st.RecordLink(ctx, 1, "shared", "https://example.com/x", "G", now); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent RecordLink: %v", err)
	}

	l, err := st.GetLink(ctx, 1, "shared")
	if err != nil {
		t.Fatal(err)
	}
	if l.Count != writers*perWriter {
		t.Errorf("count = %d, want %d", l.Count, writers*perWriter)
	}
}

func TestTopLinksOrder(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 5; i++ {
		st.RecordLink(ctx, 1, "popular", "https://example.com/p", "", now)
	}
	st.RecordLink(ctx, 1, "rare", "https://example.com/r", "", now)

	top, err := st.TopLinks(ctx, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != 2 {
		t.Fatalf("got %d links, want 2", len(top))
	}
	if top[0].Hash != "popular" {
		t.Errorf("top link = %s, want popular", top[0].Hash)
	}
}

func TestUpdateMessageText(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	if _, err := st.InsertMessage(ctx, testMessage(1, 10, 100)); err != nil {
		t.Fatal(err)
	}

	changed, err := st.UpdateMessageText(ctx, 1, 10, 100, "edited")
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Fatal("edit reported no change")
	}

	// Same text again is a no-op.
	changed, err = st.UpdateMessageText(ctx, 1, 10, 100, "edited")
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Fatal("identical edit reported change")
	}

	m, err := st.GetMessage(ctx, 1, 10, 100)
	if err != nil {
		t.Fatal(err)
	}
	if m.Text != "edited" {
		t.Errorf("text = %q, want %q", m.Text, "edited")
	}
}

func TestDeleteMessages(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	for _, id := range []int64{100, 101, 102} {
		if _, err := st.InsertMessage(ctx, testMessage(1, 10, id)); err != nil {
			t.Fatal(err)
		}
	}

	deleted, err := st.DeleteMessages(ctx, 1, 10, []int64{100, 102, 999})
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 2 {
		t.Fatalf("deleted = %d, want 2", deleted)
	}
	count, _ := st.MessageCount(ctx, 1, 10)
	if count != 1 {
		t.Fatalf("remaining = %d, want 1", count)
	}
}

func TestPruneMessagesKeepsLinks(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	old := testMessage(1, 10, 100)
	old.Timestamp = time.Now().Add(-48 * time.Hour)
	fresh := testMessage(1, 10, 101)
	fresh.Timestamp = time.Now()
	for _, m := range []*Message{old, fresh} {
		if _, err := st.InsertMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
	}
	if err := st.RecordLink(ctx, 1, "h", "https://example.com", "", old.Timestamp); err != nil {
		t.Fatal(err)
	}

	pruned, err := st.PruneMessages(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if pruned != 1 {
		t.Fatalf("pruned = %d, want 1", pruned)
	}
	if _, err := st.GetLink(ctx, 1, "h"); err != nil {
		t.Errorf("link pruned with messages: %v", err)
	}
}

func TestTenantLifecycle(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	id, err := st.AddTenant(ctx, "+15550001111", "cred-1")
	if err != nil {
		t.Fatal(err)
	}
	tenant, err := st.GetTenant(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if tenant.Status != TenantPendingAuth {
		t.Fatalf("new tenant status = %s, want %s", tenant.Status, TenantPendingAuth)
	}

	if err := st.SetTenantStatus(ctx, id, TenantActive); err != nil {
		t.Fatal(err)
	}
	active, err := st.ListTenants(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].ID != id {
		t.Fatalf("active tenants = %v", active)
	}

	if err := st.SetTenantStatus(ctx, id, "bogus"); err == nil {
		t.Fatal("invalid status accepted")
	}
	if err := st.SetTenantStatus(ctx, 9999, TenantActive); err == nil {
		t.Fatal("missing tenant accepted")
	}
}

func TestGroupEnableDisable(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	if err := st.UpsertGroup(ctx, 1, 10, "General"); err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertGroup(ctx, 1, 11, "Random"); err != nil {
		t.Fatal(err)
	}
	if err := st.SetGroupEnabled(ctx, 1, 11, false); err != nil {
		t.Fatal(err)
	}

	enabled, err := st.ListGroups(ctx, 1, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(enabled) != 1 || enabled[0].GroupID != 10 {
		t.Fatalf("enabled groups = %v", enabled)
	}

	// Title refresh keeps the enabled flag.
	if err := st.UpsertGroup(ctx, 1, 11, "Renamed"); err != nil {
		t.Fatal(err)
	}
	all, _ := st.ListGroups(ctx, 1, false)
	for _, g := range all {
		if g.GroupID == 11 && g.Enabled {
			t.Error("upsert re-enabled a disabled group")
		}
	}

	if title := st.GroupTitle(ctx, 1, 10); title != "General" {
		t.Errorf("GroupTitle = %q", title)
	}
	if title := st.GroupTitle(ctx, 1, 999); title != "999" {
		t.Errorf("unknown group title = %q, want id fallback", title)
	}
}

func TestAlertKeywordsRoundTrip(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	if err := st.SetAlertKeywords(ctx, 1, []string{"urgent", "invoice", ""}); err != nil {
		t.Fatal(err)
	}
	kws, err := st.AlertKeywords(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(kws) != 2 {
		t.Fatalf("keywords = %v, want 2", kws)
	}

	// Replacement, not accumulation.
	if err := st.SetAlertKeywords(ctx, 1, []string{"new"}); err != nil {
		t.Fatal(err)
	}
	kws, _ = st.AlertKeywords(ctx, 1)
	if len(kws) != 1 || kws[0] != "new" {
		t.Fatalf("keywords after replace = %v", kws)
	}
}

func TestMarkAlertedDedups(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	first, err := st.MarkAlerted(ctx, "1_10_100")
	if err != nil {
		t.Fatal(err)
	}
	if !first {
		t.Fatal("first mark reported duplicate")
	}
	first, err = st.MarkAlerted(ctx, "1_10_100")
	if err != nil {
		t.Fatal(err)
	}
	if first {
		t.Fatal("second mark reported first")
	}
}

func TestSettings(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	v, err := st.GetSetting(ctx, "missing")
	if err != nil || v != "" {
		t.Fatalf("GetSetting(missing) = %q, %v", v, err)
	}
	if err := st.SetSetting(ctx, "schema_rev", "3"); err != nil {
		t.Fatal(err)
	}
	if err := st.SetSetting(ctx, "schema_rev", "4"); err != nil {
		t.Fatal(err)
	}
	v, _ = st.GetSetting(ctx, "schema_rev")
	if v != "4" {
		t.Fatalf("setting = %q, want 4", v)
	}
}
