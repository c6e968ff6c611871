package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func newMemLog(t *testing.T) (*Log, *FileBackend, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	backend, err := NewFileBackend(fs, "logs/run.csv")
	require.NoError(t, err)
	l, err := LoadOrCreate(context.Background(), backend)
	require.NoError(t, err)
	return l, backend, fs
}

func sampleRecord(keyword string, position int, status Status, items int) Record {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)
	rec := Record{
		Keyword:         keyword,
		Position:        position,
		Status:          status,
		OutputPath:      "downloads/" + keyword,
		StartedAt:       start,
		FinishedAt:      end,
		DurationMinutes: DurationMinutes(start, end),
		ItemCount:       items,
		TotalSizeMB:     1.25,
	}
	if status == StatusFailed {
		rec.ErrorMessage = "boom, with a comma\nand a newline"
	}
	return rec
}

func TestLoadOrCreatePersistsEmptyTable(t *testing.T) {
	t.Parallel()

	_, _, fs := newMemLog(t)
	data, err := afero.ReadFile(fs, "logs/run.csv")
	require.NoError(t, err)
	require.Equal(t, "keyword,position,status,output_path,started_at,finished_at,duration_minutes,item_count,total_size_mb,error_message\n", string(data))
}

func TestUpsertReplacesInPlace(t *testing.T) {
	t.Parallel()

	l, backend, _ := newMemLog(t)
	ctx := context.Background()

	require.NoError(t, l.Upsert(ctx, sampleRecord("cats", 2, StatusFailed, 0)))
	second := sampleRecord("cats", 2, StatusSuccess, 40)
	second.OutputPath = "downloads/cats-v2"
	require.NoError(t, l.Upsert(ctx, second))

	all := l.All()
	require.Len(t, all, 1)
	require.Equal(t, StatusSuccess, all[0].Status)
	require.Equal(t, 40, all[0].ItemCount)
	require.Equal(t, "downloads/cats-v2", all[0].OutputPath)
	require.Empty(t, all[0].ErrorMessage)

	persisted, err := backend.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, all, persisted)
}

func TestSameKeywordDifferentPositionIsDistinct(t *testing.T) {
	t.Parallel()

	l, _, _ := newMemLog(t)
	ctx := context.Background()
	require.NoError(t, l.Upsert(ctx, sampleRecord("dogs", 4, StatusSuccess, 3)))
	require.NoError(t, l.Upsert(ctx, sampleRecord("dogs", 1, StatusSuccess, 3)))
	require.Len(t, l.All(), 2)
}

func TestUpsertKeepsPositionOrder(t *testing.T) {
	t.Parallel()

	l, backend, _ := newMemLog(t)
	ctx := context.Background()
	for _, pos := range []int{5, 1, 3, 2, 4, 3, 1} {
		require.NoError(t, l.Upsert(ctx, sampleRecord("kw", pos, StatusSuccess, pos)))
	}
	all := l.All()
	require.Len(t, all, 5)
	for i, rec := range all {
		require.Equal(t, i+1, rec.Position)
	}
	persisted, err := backend.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, all, persisted)
}

func TestReloadRoundTripIsIdempotent(t *testing.T) {
	t.Parallel()

	l, backend, fs := newMemLog(t)
	ctx := context.Background()
	require.NoError(t, l.Upsert(ctx, sampleRecord("bees", 1, StatusSuccess, 2)))
	require.NoError(t, l.Upsert(ctx, sampleRecord("cats", 2, StatusFailed, 0)))

	before, err := afero.ReadFile(fs, backend.Name())
	require.NoError(t, err)

	reloaded, err := LoadOrCreate(ctx, backend)
	require.NoError(t, err)
	require.Equal(t, l.All(), reloaded.All())
	require.NoError(t, reloaded.Flush(ctx))

	after, err := afero.ReadFile(fs, backend.Name())
	require.NoError(t, err)
	require.Equal(t, string(before), string(after))
}

func TestLoadOrCreateRejectsCorruptLogs(t *testing.T) {
	t.Parallel()

	header := "keyword,position,status,output_path,started_at,finished_at,duration_minutes,item_count,total_size_mb,error_message\n"
	tests := []struct {
		name    string
		content string
	}{
		{name: "empty file", content: ""},
		{name: "wrong header", content: "keyword,row_number\nbees,1\n"},
		{name: "bad position", content: header + "bees,one,success,p,,,0.00,2,0.00,\n"},
		{name: "bad status", content: header + "bees,1,done,p,,,0.00,2,0.00,\n"},
		{name: "bad time", content: header + "bees,1,success,p,yesterday,,0.00,2,0.00,\n"},
		{name: "short row", content: header + "bees,1,success\n"},
		{name: "duplicate key", content: header + "bees,1,success,p,,,0.00,2,0.00,\nbees,1,failed,p,,,0.00,0,0.00,x\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fs := afero.NewMemMapFs()
			require.NoError(t, afero.WriteFile(fs, "log.csv", []byte(tt.content), 0o600))
			backend, err := NewFileBackend(fs, "log.csv")
			require.NoError(t, err)
			_, err = LoadOrCreate(context.Background(), backend)
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrCorruptLog), "got %v", err)
		})
	}
}

func TestLoadSortsUnorderedFile(t *testing.T) {
	t.Parallel()

	header := "keyword,position,status,output_path,started_at,finished_at,duration_minutes,item_count,total_size_mb,error_message\n"
	fs := afero.NewMemMapFs()
	content := header + "dogs,3,success,p,,,0.00,5,0.00,\nbees,1,success,p,,,0.00,2,0.00,\n"
	require.NoError(t, afero.WriteFile(fs, "log.csv", []byte(content), 0o600))
	backend, err := NewFileBackend(fs, "log.csv")
	require.NoError(t, err)
	l, err := LoadOrCreate(context.Background(), backend)
	require.NoError(t, err)
	all := l.All()
	require.Equal(t, "bees", all[0].Keyword)
	require.Equal(t, "dogs", all[1].Keyword)
}

type failingBackend struct {
	FileBackend
	failSave bool
}

func (b *failingBackend) Save(ctx context.Context, records []Record) error {
	if b.failSave {
		return errors.New("disk full")
	}
	return b.FileBackend.Save(ctx, records)
}

func TestUpsertFailureLeavesMemoryUnchanged(t *testing.T) {
	t.Parallel()

	inner, err := NewFileBackend(afero.NewMemMapFs(), "log.csv")
	require.NoError(t, err)
	backend := &failingBackend{FileBackend: *inner}
	l, err := LoadOrCreate(context.Background(), backend)
	require.NoError(t, err)

	backend.failSave = true
	err = l.Upsert(context.Background(), sampleRecord("bees", 1, StatusSuccess, 2))
	require.Error(t, err)
	require.Empty(t, l.All())
}

func TestUpsertRejectsInvalidRecord(t *testing.T) {
	t.Parallel()

	l, _, _ := newMemLog(t)
	err := l.Upsert(context.Background(), Record{Keyword: "bees", Position: 0, Status: StatusSuccess})
	require.Error(t, err)
	err = l.Upsert(context.Background(), Record{Keyword: "bees", Position: 1, Status: "pending"})
	require.Error(t, err)
}

type recordingMirror struct {
	objects map[string][]byte
	err     error
}

func (m *recordingMirror) Save(_ context.Context, name string, data []byte) error {
	if m.err != nil {
		return m.err
	}
	m.objects[name] = append([]byte(nil), data...)
	return nil
}

func TestMirrorReceivesEveryPersist(t *testing.T) {
	t.Parallel()

	backend, err := NewFileBackend(afero.NewMemMapFs(), "state/run.csv")
	require.NoError(t, err)
	mirror := &recordingMirror{objects: map[string][]byte{}}
	l, err := LoadOrCreate(context.Background(), backend, WithMirror(mirror))
	require.NoError(t, err)
	require.NoError(t, l.Upsert(context.Background(), sampleRecord("bees", 1, StatusSuccess, 2)))

	data, ok := mirror.objects["run.csv"]
	require.True(t, ok)
	require.Contains(t, string(data), "bees,1,success")
}

func TestMirrorFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	backend, err := NewFileBackend(afero.NewMemMapFs(), "run.csv")
	require.NoError(t, err)
	mirror := &recordingMirror{err: errors.New("bucket gone")}
	l, err := LoadOrCreate(context.Background(), backend, WithMirror(mirror))
	require.NoError(t, err)
	require.NoError(t, l.Upsert(context.Background(), sampleRecord("bees", 1, StatusSuccess, 2)))
	require.Len(t, l.All(), 1)
}

func TestRemediationReasons(t *testing.T) {
	t.Parallel()

	l, _, _ := newMemLog(t)
	ctx := context.Background()
	require.NoError(t, l.Upsert(ctx, sampleRecord("ok", 1, StatusSuccess, 10)))
	require.NoError(t, l.Upsert(ctx, sampleRecord("failed", 2, StatusFailed, 7)))
	require.NoError(t, l.Upsert(ctx, sampleRecord("zero", 3, StatusSuccess, 0)))
	require.NoError(t, l.Upsert(ctx, sampleRecord("short", 4, StatusSuccess, 4)))

	got := l.Remediable(5)
	require.Len(t, got, 3)
	require.Equal(t, ReasonFailedStatus, got[0].Reason)
	require.Equal(t, ReasonZeroItems, got[1].Reason)
	require.Equal(t, ReasonInsufficientItems, got[2].Reason)
	require.Equal(t, 4, got[2].Record.Position)
}
