package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "orderbot/pkg/logx"
)

func openTest(t *testing.T, driver string) (Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orderbot.db")
	st, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	return st, path
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", d, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected unknown driver error")
	}
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st, path := openTest(t, driver)

			now := time.Now().Truncate(time.Millisecond)
			for i, res := range []string{ResultSent, ResultFailed} {
				r := DeliveryRecord{JobID: "j" + string(rune('1'+i)), Kind: "order_created", OrderID: int64(100 + i), Result: res, Attempts: i + 1, CreatedAt: now, FinishedAt: now}
				if err := st.AppendDelivery(ctx, r); err != nil {
					t.Fatalf("AppendDelivery: %v", err)
				}
			}
			until := now.Add(time.Hour)
			if err := st.PutDedup(ctx, "order_created:100:", until); err != nil {
				t.Fatalf("PutDedup: %v", err)
			}
			if err := st.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			st, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			defer st.Close()

			recs, err := st.RecentDeliveries(ctx, 10)
			if err != nil {
				t.Fatalf("RecentDeliveries: %v", err)
			}
			if len(recs) != 2 || recs[0].OrderID != 101 || recs[0].Result != ResultFailed || recs[1].JobID != "j1" {
				t.Fatalf("recent = %+v", recs)
			}
			got, ok, err := st.GetDedup(ctx, "order_created:100:")
			if err != nil || !ok || !got.Equal(until) {
				t.Fatalf("GetDedup = %v, %v, %v; want %v", got, ok, err, until)
			}
			if _, ok, _ := st.GetDedup(ctx, "missing"); ok {
				t.Fatal("unexpected dedup hit")
			}
		})
	}
}

func TestFileStoreDropsExpiredDedupOnOpen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, path := openTest(t, "file")
	_ = st.PutDedup(ctx, "old", time.Now().Add(-time.Minute))
	_ = st.Close()

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	if _, ok, _ := st.GetDedup(ctx, "old"); ok {
		t.Fatal("expired dedup entry survived reopen")
	}
}

func TestLiveDedup(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st, _ := openTest(t, driver)
			defer st.Close()

			now := time.Now().Truncate(time.Millisecond)
			_ = st.PutDedup(ctx, "live", now.Add(time.Hour))
			_ = st.PutDedup(ctx, "expired", now.Add(-time.Minute))

			got, err := st.LiveDedup(ctx, now, 0)
			if err != nil {
				t.Fatalf("LiveDedup: %v", err)
			}
			if len(got) != 1 || !got["live"].Equal(now.Add(time.Hour)) {
				t.Fatalf("LiveDedup = %v", got)
			}
		})
	}
}
