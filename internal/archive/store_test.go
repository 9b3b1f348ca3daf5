package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxion/voice-agent/internal/domain"
	"github.com/fluxion/voice-agent/pkg/logging"
)

type mockS3Client struct {
	objects map[string][]byte
	puts    []string
	getErr  error
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(in.Body)
	m.objects[*in.Key] = body
	m.puts = append(m.puts, *in.Key)
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[*in.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func testSession() *domain.Session {
	start := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	return &domain.Session{
		ID:         "sess-1",
		Channel:    domain.ChannelVoice,
		Vertical:   "salone",
		Phone:      "3331234567",
		CreatedAt:  start,
		UpdatedAt:  start.Add(time.Minute),
		Outcome:    domain.OutcomeBookingCreated,
		TotalTurns: 1,
		Turns: []domain.Turn{{
			Number:    1,
			Timestamp: start,
			UserInput: "sono Gigio, il mio numero è 3331234567",
			Response:  "Perfetto Gigio.",
			Intent:    domain.IntentBooking,
			Layer:     domain.LayerIntent,
		}},
	}
}

func newTestArchiver(client S3API) *S3Archiver {
	a := NewS3Archiver(client, "sara-archive", logging.Discard())
	a.now = func() time.Time { return time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC) }
	return a
}

func TestArchiveSessionWritesAnonymizedTranscript(t *testing.T) {
	client := newMockS3()
	a := newTestArchiver(client)

	require.NoError(t, a.ArchiveSession(context.Background(), testSession()))

	key := "sessions/v1/by-date/2026/10/19/sess-1.json"
	require.Contains(t, client.objects, key)

	var rec TranscriptRecord
	require.NoError(t, json.Unmarshal(client.objects[key], &rec))
	assert.Equal(t, "sess-1", rec.SessionID)
	assert.Equal(t, HashPhone("3331234567"), rec.PhoneHash)
	require.Len(t, rec.Turns, 1)
	assert.Equal(t, "sono Gigio, il mio numero è ******4567", rec.Turns[0].User)
	assert.NotContains(t, string(client.objects[key]), "3331234567")
}

func TestArchiveSessionAppendsManifest(t *testing.T) {
	client := newMockS3()
	a := newTestArchiver(client)

	s := testSession()
	require.NoError(t, a.ArchiveSession(context.Background(), s))
	s.ID = "sess-2"
	require.NoError(t, a.ArchiveSession(context.Background(), s))

	manifest := string(client.objects["sessions/v1/manifests/2026-10.jsonl"])
	lines := strings.Split(strings.TrimSpace(manifest), "\n")
	require.Len(t, lines, 2)

	var entry ManifestEntry
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &entry))
	assert.Equal(t, "sess-2", entry.SessionID)
	assert.Equal(t, "booking_created", entry.Outcome)
}

func TestManifestFailureDoesNotFailArchive(t *testing.T) {
	client := newMockS3()
	client.getErr = errors.New("access denied")
	a := newTestArchiver(client)

	require.NoError(t, a.ArchiveSession(context.Background(), testSession()))
	assert.Equal(t, []string{"sessions/v1/by-date/2026/10/19/sess-1.json"}, client.puts)
}

func TestDisabledArchiverIsNoop(t *testing.T) {
	a := NewS3Archiver(nil, "", nil)
	assert.False(t, a.Enabled())
	assert.NoError(t, a.ArchiveSession(context.Background(), testSession()))
}
