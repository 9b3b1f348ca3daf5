package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/fluxion/voice-agent/internal/domain"
	"github.com/fluxion/voice-agent/pkg/logging"
)

// S3API is the subset of the S3 client used by S3Archiver.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Archiver uploads anonymized transcripts. With an empty bucket every
// operation is a no-op.
type S3Archiver struct {
	bucket   string
	s3Client S3API
	logger   *logging.Logger
	now      func() time.Time
}

// NewS3Archiver creates an archiver for bucket.
func NewS3Archiver(s3Client S3API, bucket string, logger *logging.Logger) *S3Archiver {
	if logger == nil {
		logger = logging.Default()
	}
	return &S3Archiver{bucket: bucket, s3Client: s3Client, logger: logger, now: time.Now}
}

// Enabled returns true if archival is configured.
func (a *S3Archiver) Enabled() bool {
	return a != nil && a.bucket != "" && a.s3Client != nil
}

// NewTranscript builds the anonymized record for s. s is not modified.
func NewTranscript(s *domain.Session, archivedAt time.Time) *TranscriptRecord {
	rec := &TranscriptRecord{
		Version:    "1.0",
		SessionID:  s.ID,
		Vertical:   s.Vertical,
		Channel:    string(s.Channel),
		ArchivedAt: archivedAt.UTC(),
		StartedAt:  s.CreatedAt,
		EndedAt:    s.UpdatedAt,
		Outcome:    string(s.Outcome),
		Escalation: s.EscalationReason,
		TurnCount:  s.TotalTurns,
		LLMCalls:   s.LLMCalls,
		Turns:      make([]TranscriptTurn, 0, len(s.Turns)),
	}
	if s.Phone != "" {
		rec.PhoneHash = HashPhone(s.Phone)
	}
	for _, t := range s.Turns {
		rec.Turns = append(rec.Turns, TranscriptTurn{
			Number:    t.Number,
			Timestamp: t.Timestamp,
			User:      AnonymizeText(t.UserInput),
			Agent:     AnonymizeText(t.Response),
			Intent:    string(t.Intent),
			Layer:     string(t.Layer),
		})
	}
	return rec
}

// ArchiveSession writes the anonymized transcript of s and appends it to
// the monthly manifest.
func (a *S3Archiver) ArchiveSession(ctx context.Context, s *domain.Session) error {
	if !a.Enabled() || s == nil {
		return nil
	}
	now := a.now().UTC()
	record := NewTranscript(s, now)

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("archive: marshal record: %w", err)
	}

	key := fmt.Sprintf("sessions/v1/by-date/%d/%02d/%02d/%s.json", now.Year(), now.Month(), now.Day(), s.ID)
	_, err = a.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put %s: %w", key, err)
	}

	a.logger.Info("archived session transcript", "session_id", s.ID, "s3_key", key, "turn_count", record.TurnCount)

	entry := ManifestEntry{
		SessionID:  s.ID,
		S3Key:      key,
		Vertical:   s.Vertical,
		Outcome:    record.Outcome,
		ArchivedAt: now.Format(time.RFC3339),
		TurnCount:  record.TurnCount,
	}
	if err := a.appendManifest(ctx, now, entry); err != nil {
		a.logger.Warn("failed to append manifest", "error", err, "session_id", s.ID)
	}
	return nil
}

// appendManifest rewrites the monthly JSONL manifest with entry appended.
// S3 has no append.
func (a *S3Archiver) appendManifest(ctx context.Context, now time.Time, entry ManifestEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("archive: marshal manifest entry: %w", err)
	}
	key := fmt.Sprintf("sessions/v1/manifests/%d-%02d.jsonl", now.Year(), now.Month())

	var existing []byte
	resp, err := a.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	switch {
	case err == nil:
		existing, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("archive: read manifest: %w", err)
		}
	case isNotFound(err):
		a.logger.Debug("manifest not found, creating new", "key", key)
	default:
		return fmt.Errorf("archive: s3 get manifest: %w", err)
	}

	var buf bytes.Buffer
	if len(existing) > 0 {
		buf.Write(existing)
		if existing[len(existing)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	buf.Write(line)
	buf.WriteByte('\n')

	_, err = a.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put manifest: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *s3types.NotFound
	return errors.As(err, &nf)
}
