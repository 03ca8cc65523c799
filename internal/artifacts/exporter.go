// Package artifacts exports the generated code of saved bots to an
// S3-compatible bucket.
package artifacts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/aristath/botstudio/internal/config"
	"github.com/aristath/botstudio/internal/domain"
)

const (
	codeObject     = "strategy.py"
	manifestObject = "manifest.json"
)

// Uploader is the part of the S3 upload manager the exporter uses
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Manifest describes an exported bot next to its code
type Manifest struct {
	BotID           string          `json:"bot_id"`
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	SessionID       string          `json:"session_id,omitempty"`
	Strategy        domain.Strategy `json:"strategy"`
	BacktestResults map[string]any  `json:"backtest_results,omitempty"`
	ExportedAt      time.Time       `json:"exported_at"`
}

// Exporter writes bots/{id}/strategy.py and bots/{id}/manifest.json
type Exporter struct {
	uploader Uploader
	bucket   string
	now      func() time.Time
	log      zerolog.Logger
}

// New builds an exporter from configuration. Static credentials are used
// when both keys are set, otherwise the default AWS credential chain.
func New(ctx context.Context, cfg *config.ArtifactConfig, log zerolog.Logger) (*Exporter, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("artifact export is not configured")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Custom endpoints are MinIO/R2 style and need path-style addressing
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewWithUploader(manager.NewUploader(client), cfg.Bucket, log), nil
}

// NewWithUploader builds an exporter around an existing uploader
func NewWithUploader(uploader Uploader, bucket string, log zerolog.Logger) *Exporter {
	return &Exporter{
		uploader: uploader,
		bucket:   bucket,
		now:      time.Now,
		log:      log.With().Str("component", "artifact_exporter").Logger(),
	}
}

// Export uploads the code and manifest of a saved bot. It matches the
// after-save hook signature of the persistence reconciler.
func (e *Exporter) Export(ctx context.Context, bot domain.Bot) error {
	if bot.ID == "" {
		return fmt.Errorf("cannot export a bot without an id")
	}

	manifest, err := json.MarshalIndent(Manifest{
		BotID:           bot.ID,
		Name:            bot.Name,
		Description:     bot.Description,
		SessionID:       bot.SessionID,
		Strategy:        bot.StrategyConfig,
		BacktestResults: bot.BacktestResults,
		ExportedAt:      e.now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if err := e.put(ctx, Key(bot.ID, codeObject), []byte(bot.GeneratedCode), "text/x-python"); err != nil {
		return err
	}
	if err := e.put(ctx, Key(bot.ID, manifestObject), manifest, "application/json"); err != nil {
		return err
	}

	e.log.Info().Str("bot_id", bot.ID).Str("bucket", e.bucket).Msg("Exported bot artifacts")
	return nil
}

func (e *Exporter) put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := e.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// Key returns the object key of a bot artifact
func Key(botID, name string) string {
	return path.Join("bots", botID, name)
}
