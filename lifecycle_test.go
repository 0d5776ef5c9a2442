package synapsd_test

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvas-server/synapsd"
	"github.com/canvas-server/synapsd/blobstore"
	"github.com/canvas-server/synapsd/model"
	"github.com/canvas-server/synapsd/schema"
)

func noteN(i int) *model.Document {
	return &model.Document{
		Schema: schema.Note,
		Data: map[string]any{
			"title":   fmt.Sprintf("note %d", i),
			"content": fmt.Sprintf("body of note number %d", i),
		},
	}
}

// TestNoGoroutineLeaks verifies that Close stops everything Open and the
// operations started: backend, bitmap cache and backup uploads.
func TestNoGoroutineLeaks(t *testing.T) {
	tests := []struct {
		name     string
		opts     []synapsd.Option
		maxLeaks int // runtime background goroutines
	}{
		{name: "bolt", opts: []synapsd.Option{synapsd.WithBackendType(synapsd.BackendBolt)}, maxLeaks: 2},
		{name: "sqlite", opts: []synapsd.Option{synapsd.WithBackendType(synapsd.BackendSQLite)}, maxLeaks: 2},
		{
			name: "memory with backups",
			opts: []synapsd.Option{
				synapsd.WithBackendType(synapsd.BackendMemory),
				synapsd.WithBackupStore(blobstore.NewMemoryStore()),
				synapsd.WithBackupOnClose(true),
				synapsd.WithResourceLimits(synapsd.ResourceLimits{IOBytesPerSec: 1 << 20}),
			},
			maxLeaks: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runtime.GC()
			time.Sleep(50 * time.Millisecond)
			initial := runtime.NumGoroutine()

			ctx := context.Background()
			db, err := synapsd.Open(ctx, t.TempDir(), tt.opts...)
			require.NoError(t, err)

			for i := 0; i < 50; i++ {
				_, err := db.Insert(ctx, noteN(i), []string{fmt.Sprintf("/ctx/%d", i%5)}, []string{"tag/load"})
				require.NoError(t, err)
			}
			_, err = db.Find(ctx, "note", []string{"/ctx/1"}, nil, 10)
			require.NoError(t, err)
			_, err = db.Reconcile(ctx)
			require.NoError(t, err)

			require.NoError(t, db.Close())

			deadline := time.Now().Add(2 * time.Second)
			var leaked int
			for {
				runtime.GC()
				time.Sleep(50 * time.Millisecond)
				leaked = runtime.NumGoroutine() - initial
				if leaked <= tt.maxLeaks || time.Now().After(deadline) {
					break
				}
			}
			if leaked > tt.maxLeaks {
				buf := make([]byte, 1<<20)
				n := runtime.Stack(buf, true)
				t.Errorf("goroutine leak: %d extra goroutines (max %d)\n%s", leaked, tt.maxLeaks, buf[:n])
			}
		})
	}
}

func TestCloseTwice(t *testing.T) {
	db, err := synapsd.Open(context.Background(), t.TempDir())
	require.NoError(t, err)

	require.NoError(t, db.Close())
	assert.ErrorIs(t, db.Close(), synapsd.ErrClosed)
	assert.ErrorIs(t, db.Close(), synapsd.ErrClosed)
}

// TestCloseWithActiveOperations closes the index while writers and
// readers run. Every operation either completes or fails with ErrClosed.
func TestCloseWithActiveOperations(t *testing.T) {
	ctx := context.Background()
	db, err := synapsd.Open(ctx, t.TempDir())
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 400)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, err := db.Insert(ctx, noteN(w*1000+i), []string{"/busy"}, nil)
				errs <- err
				_, err = db.List(ctx, []string{"/busy"}, nil, nil)
				errs <- err
				time.Sleep(time.Millisecond)
			}
		}(w)
	}

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, db.Close())
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil && !errors.Is(err, synapsd.ErrClosed) {
			t.Errorf("unexpected error: %v", err)
		}
	}
}
