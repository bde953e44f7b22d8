// Package report renders the report_generation stage output: a JSON document
// summarizing the run's metrics, written to S3 or a local directory.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"gait-pipeline/internal/models"
)

// Document is the persisted report shape.
type Document struct {
	AnalysisID  string                  `json:"analysis_id"`
	PatientRef  string                  `json:"patient_ref,omitempty"`
	GeneratedAt time.Time               `json:"generated_at"`
	Metrics     *models.MetricsSnapshot `json:"metrics"`
	Summary     []string                `json:"summary"`
}

// Build assembles the report document for a finished metrics computation.
func Build(rec models.AnalysisRecord, m *models.MetricsSnapshot) Document {
	patient := ""
	if rec.PatientRef != nil {
		patient = *rec.PatientRef
	}
	return Document{
		AnalysisID:  rec.ID,
		PatientRef:  patient,
		GeneratedAt: time.Now().UTC(),
		Metrics:     m,
		Summary:     summarize(m),
	}
}

func summarize(m *models.MetricsSnapshot) []string {
	lines := []string{
		fmt.Sprintf("walking speed %.2f m/s, cadence %.0f steps/min",
			m.Spatiotemporal.WalkingSpeedMPS, m.Spatiotemporal.CadenceStepsPerMin),
		fmt.Sprintf("step length %.2f m, stride length %.2f m",
			m.Spatiotemporal.StepLengthM, m.Spatiotemporal.StrideLengthM),
		fmt.Sprintf("fall risk %s (score %.0f)", m.FallRisk.Level, m.FallRisk.Score),
		fmt.Sprintf("functional mobility %s (%.0f/100)", m.Mobility.Level, m.Mobility.Total),
	}
	if len(m.FallRisk.TriggeredFactors) > 0 {
		lines = append(lines, "triggered risk factors: "+strings.Join(m.FallRisk.TriggeredFactors, ", "))
	}
	return lines
}

// Uploader stores a rendered report body under a key.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// Writer renders and stores report documents.
type Writer struct {
	uploader Uploader
}

func NewWriter(u Uploader) *Writer {
	return &Writer{uploader: u}
}

// Write renders the report for rec and stores it, returning its location.
func (w *Writer) Write(ctx context.Context, rec models.AnalysisRecord, m *models.MetricsSnapshot) (string, error) {
	doc := Build(rec, m)
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	key := fmt.Sprintf("reports/%s.json", rec.ID)
	loc, err := w.uploader.Upload(ctx, key, body, "application/json")
	if err != nil {
		return "", fmt.Errorf("store report: %w", err)
	}
	return loc, nil
}

// LocalUploader writes reports under a base directory.
type LocalUploader struct {
	BaseDir string
}

func (u *LocalUploader) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	path := filepath.Join(u.BaseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

// S3Uploader stores reports in an S3 bucket.
type S3Uploader struct {
	client *s3.Client
	bucket string
}

// S3Options configures the S3 uploader; Endpoint and PathStyle support
// S3-compatible stores in development.
type S3Options struct {
	Bucket    string
	Region    string
	Endpoint  string
	PathStyle bool
}

func NewS3Uploader(ctx context.Context, opts S3Options) (*S3Uploader, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               opts.Endpoint,
					HostnameImmutable: opts.PathStyle,
					SigningRegion:     opts.Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		loadOpts = append(loadOpts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = opts.PathStyle
	})
	return &S3Uploader{client: client, bucket: opts.Bucket}, nil
}

func (u *S3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        strings.NewReader(string(body)),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put s3 object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", u.bucket, key), nil
}
