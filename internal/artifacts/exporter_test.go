package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/botstudio/internal/config"
	"github.com/aristath/botstudio/internal/domain"
)

type upload struct {
	bucket      string
	key         string
	contentType string
	body        []byte
}

type fakeUploader struct {
	mu      sync.Mutex
	uploads []upload
	err     error
}

func (f *fakeUploader) Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	f.uploads = append(f.uploads, upload{
		bucket:      aws.ToString(input.Bucket),
		key:         aws.ToString(input.Key),
		contentType: aws.ToString(input.ContentType),
		body:        body,
	})
	return &manager.UploadOutput{Key: input.Key}, nil
}

func testBot() domain.Bot {
	return domain.Bot{
		ID:              "bot-1",
		Name:            "RSI dip",
		StrategyConfig:  domain.Strategy{Name: "RSI dip", Config: map[string]any{"period": 14.0}},
		GeneratedCode:   "class Bot: pass\n",
		BacktestResults: map[string]any{"total_return_pct": 4.5},
		SessionID:       "sess-1",
	}
}

func TestExport_UploadsCodeAndManifest(t *testing.T) {
	uploader := &fakeUploader{}
	e := NewWithUploader(uploader, "studio-artifacts", zerolog.Nop())
	e.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	require.NoError(t, e.Export(context.Background(), testBot()))

	require.Len(t, uploader.uploads, 2)
	code := uploader.uploads[0]
	assert.Equal(t, "studio-artifacts", code.bucket)
	assert.Equal(t, "bots/bot-1/strategy.py", code.key)
	assert.Equal(t, "text/x-python", code.contentType)
	assert.Equal(t, "class Bot: pass\n", string(code.body))

	manifest := uploader.uploads[1]
	assert.Equal(t, "bots/bot-1/manifest.json", manifest.key)
	var got Manifest
	require.NoError(t, json.Unmarshal(manifest.body, &got))
	assert.Equal(t, "bot-1", got.BotID)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.Equal(t, 14.0, got.Strategy.Config["period"])
	assert.True(t, got.ExportedAt.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
}

func TestExport_RequiresID(t *testing.T) {
	uploader := &fakeUploader{}
	e := NewWithUploader(uploader, "b", zerolog.Nop())

	bot := testBot()
	bot.ID = ""
	assert.Error(t, e.Export(context.Background(), bot))
	assert.Empty(t, uploader.uploads)
}

func TestExport_UploadFailure(t *testing.T) {
	uploader := &fakeUploader{err: errors.New("access denied")}
	e := NewWithUploader(uploader, "b", zerolog.Nop())

	err := e.Export(context.Background(), testBot())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bots/bot-1/strategy.py")
}

func TestNew_RequiresBucket(t *testing.T) {
	_, err := New(context.Background(), &config.ArtifactConfig{}, zerolog.Nop())
	assert.Error(t, err)

	_, err = New(context.Background(), nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestNew_WithStaticCredentials(t *testing.T) {
	e, err := New(context.Background(), &config.ArtifactConfig{
		Bucket:    "studio",
		Endpoint:  "http://127.0.0.1:9000",
		Region:    "us-east-1",
		AccessKey: "key",
		SecretKey: "secret",
	}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "studio", e.bucket)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "bots/abc/strategy.py", Key("abc", "strategy.py"))
}
