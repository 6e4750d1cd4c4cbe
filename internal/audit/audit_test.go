package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celerix-dev/celerix-presence/pkg/schema"
)

var at = time.Date(2024, 3, 1, 8, 5, 9, 0, time.UTC)

func TestLine(t *testing.T) {
	tests := []struct {
		name  string
		entry schema.AuditEntry
		want  string
	}{
		{
			name: "registration",
			entry: schema.AuditEntry{Action: schema.AuditCreate, Actor: "Иван Петров",
				OldStatus: schema.StatusNew, NewStatus: schema.StatusInside, Timestamp: at},
			want: "2024-03-01 08:05:09 | Иван Петров | NEW -> inside",
		},
		{
			name: "transition with gps",
			entry: schema.AuditEntry{Action: schema.AuditTransition, Actor: "Иван Петров",
				OldStatus: schema.StatusInside, NewStatus: schema.StatusWork, Timestamp: at,
				Location: &schema.Location{Latitude: 55.7512441, Longitude: 37.6184}},
			want: "2024-03-01 08:05:09 | Иван Петров | inside -> work | GPS: 55.751244, 37.618400",
		},
		{
			name: "bulk reset",
			entry: schema.AuditEntry{Action: schema.AuditBulkReset, Actor: "ADMIN",
				NewStatus: schema.StatusInside, Detail: "Сброс всех статусов на 'inside' (3)", Timestamp: at},
			want: "2024-03-01 08:05:09 | ADMIN | Сброс всех статусов на 'inside' (3)",
		},
		{
			name: "delete",
			entry: schema.AuditEntry{Action: schema.AuditDelete, Actor: "ADMIN",
				OldStatus: schema.StatusWork, Detail: "Удалён пользователь: Анна", Timestamp: at},
			want: "2024-03-01 08:05:09 | ADMIN | Удалён пользователь: Анна",
		},
		{
			name: "non-utc timestamp",
			entry: schema.AuditEntry{Action: schema.AuditTransition, Actor: "Анна",
				OldStatus: schema.StatusWork, NewStatus: schema.StatusInside,
				Timestamp: at.In(time.FixedZone("MSK", 3*60*60))},
			want: "2024-03-01 08:05:09 | Анна | work -> inside",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Line(tt.entry))
		})
	}
}

func TestActivityLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "activity.log")
	log, err := OpenActivityLog(path)
	require.NoError(t, err)

	ctx := context.Background()
	first := schema.AuditEntry{Action: schema.AuditCreate, Actor: "Анна", OldStatus: schema.StatusNew, NewStatus: schema.StatusInside, Timestamp: at}
	second := schema.AuditEntry{Action: schema.AuditTransition, Actor: "Анна", OldStatus: schema.StatusInside, NewStatus: schema.StatusDayOff, Timestamp: at.Add(time.Minute)}
	require.NoError(t, log.Record(ctx, first))
	require.NoError(t, log.Record(ctx, second))
	require.NoError(t, log.Close())

	// Reopening appends instead of truncating.
	log, err = OpenActivityLog(path)
	require.NoError(t, err)
	require.NoError(t, log.Record(ctx, first))
	require.NoError(t, log.Close())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(content), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, Line(first), lines[0])
	assert.Equal(t, Line(second), lines[1])
	assert.Equal(t, Line(first), lines[2])
}

type fakeStream struct {
	args []*redis.XAddArgs
	err  error
}

func (f *fakeStream) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.args = append(f.args, a)
	return redis.NewStringResult("1-0", f.err)
}

func TestRedisStream(t *testing.T) {
	fake := &fakeStream{}
	stream := NewRedisStream(fake, "", 1000)

	entry := schema.AuditEntry{ID: "e-1", Action: schema.AuditTransition, Actor: "Анна",
		OldStatus: schema.StatusInside, NewStatus: schema.StatusWork, Timestamp: at}
	require.NoError(t, stream.Record(context.Background(), entry))

	require.Len(t, fake.args, 1)
	args := fake.args[0]
	assert.Equal(t, DefaultStream, args.Stream)
	assert.Equal(t, int64(1000), args.MaxLen)
	assert.True(t, args.Approx)

	values := args.Values.(map[string]interface{})
	assert.Equal(t, "e-1", values["id"])
	assert.Equal(t, "transition", values["action"])
	assert.Equal(t, Line(entry), values["line"])

	var decoded schema.AuditEntry
	require.NoError(t, json.Unmarshal([]byte(values["data"].(string)), &decoded))
	assert.Equal(t, entry, decoded)
}

func TestRedisStream_Error(t *testing.T) {
	fake := &fakeStream{err: errors.New("connection refused")}
	stream := NewRedisStream(fake, "custom", 0)

	err := stream.Record(context.Background(), schema.AuditEntry{ID: "e-1", Timestamp: at})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "custom")
	assert.False(t, fake.args[0].Approx)
}
