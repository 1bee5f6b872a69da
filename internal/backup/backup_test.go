package backup

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/streetartmap/accessd/internal/database"
	"github.com/streetartmap/accessd/internal/model"
	"github.com/streetartmap/accessd/internal/store"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*input.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, *input.Key)
	f.deleted = append(f.deleted, *input.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func newTestManager(t *testing.T) (*Manager, *fakeS3, *store.BackupStore) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "access.db")
	db, err := database.Open(dbPath)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	fake := newFakeS3()
	bs := store.NewBackupStore(db)
	m := &Manager{
		cfg: Config{
			S3:            S3Config{Bucket: "test-bucket", AccessKey: "k", SecretKey: "s"},
			DBPath:        dbPath,
			Passphrase:    "test-passphrase",
			RetentionDays: 30,
		},
		db:     db,
		stores: bs,
		client: fake,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return m, fake, bs
}

func TestRunNow(t *testing.T) {
	m, fake, bs := newTestManager(t)

	id, err := m.RunNow(context.Background())
	if err != nil {
		t.Fatalf("run backup: %v", err)
	}

	record, err := bs.GetByID(id)
	if err != nil {
		t.Fatalf("get backup record: %v", err)
	}
	if record.Status != model.BackupStatusCompleted {
		t.Errorf("status = %q, want %q", record.Status, model.BackupStatusCompleted)
	}
	if record.SizeBytes == 0 {
		t.Error("expected non-zero size")
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.objects) != 1 {
		t.Fatalf("uploaded objects = %d, want 1", len(fake.objects))
	}
	for key, body := range fake.objects {
		if !strings.HasPrefix(key, "backups/") {
			t.Errorf("object key %q not under backups/", key)
		}
		plaintext, err := Decrypt(body, "test-passphrase")
		if err != nil {
			t.Fatalf("uploaded object does not decrypt: %v", err)
		}
		if !bytes.HasPrefix(plaintext, []byte("SQLite format 3\x00")) {
			t.Error("decrypted backup is not a SQLite database")
		}
	}
}

func TestRunNowNotConfigured(t *testing.T) {
	m := &Manager{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	if _, err := m.RunNow(context.Background()); err == nil {
		t.Error("expected error without a configured client")
	}
}

func TestEnabled(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want bool
	}{
		{"fully configured", Config{S3: S3Config{Bucket: "b", AccessKey: "k", SecretKey: "s"}, Passphrase: "p"}, true},
		{"missing bucket", Config{S3: S3Config{AccessKey: "k", SecretKey: "s"}, Passphrase: "p"}, false},
		{"missing passphrase", Config{S3: S3Config{Bucket: "b", AccessKey: "k", SecretKey: "s"}}, false},
		{"empty", Config{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Manager{cfg: tt.cfg}
			if got := m.Enabled(); got != tt.want {
				t.Errorf("Enabled() = %v, want %v", got, tt.want)
			}
		})
	}
}
