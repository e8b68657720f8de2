// Package artifacts mirrors agent FileWrite/FilePatch actions to an
// S3-compatible bucket as an audit trail. The workspace filesystem sandbox
// stays authoritative for actually applying those actions; this package only
// archives a copy of what was written, keyed by project and task, so a
// reviewer can inspect agent-authored changes after the fact without
// replaying the sandbox.
package artifacts

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"cyberdevstudio/internal/dispatch"
	"cyberdevstudio/internal/logging"
)

// Mirror writes agent-authored file content to S3. A nil *Mirror is valid
// and a no-op, matching the "stays disabled unless ARTIFACT_BUCKET is
// configured" contract.
type Mirror struct {
	bucket   string
	uploader *manager.Uploader
	log      *zap.Logger
}

// New connects to the configured S3-compatible endpoint using the default
// AWS credential chain. bucket == "" disables mirroring: callers get back a
// nil *Mirror, and every method on a nil *Mirror is a safe no-op.
func New(ctx context.Context, bucket string) (*Mirror, error) {
	if bucket == "" {
		return nil, nil
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg)
	return &Mirror{
		bucket:   bucket,
		uploader: manager.NewUploader(client),
		log:      logging.L().Named("artifacts"),
	}, nil
}

// MirrorOutcome archives every file_write/file_patch action in outcome
// under a key prefixed by projectID and taskID. Upload failures are logged,
// not returned: a failed audit copy must never fail the agent task that
// already completed successfully.
func (m *Mirror) MirrorOutcome(ctx context.Context, projectID, taskID string, outcome dispatch.Outcome) {
	if m == nil {
		return
	}
	for i, action := range outcome.Actions {
		switch action.Kind {
		case dispatch.ActionFileWrite:
			m.put(ctx, objectKey(projectID, taskID, i, action.Path), fileBytes(action.File))
		case dispatch.ActionFilePatch:
			m.put(ctx, objectKey(projectID, taskID, i, action.Path), []byte(action.Patch))
		}
	}
}

func (m *Mirror) put(ctx context.Context, key string, body []byte) {
	_, err := m.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		m.log.Warn("artifact mirror upload failed", zap.String("key", key), zap.Error(err))
	}
}

// objectKey is unique per mirrored action: projectID/taskID disambiguate
// across tasks, the action index disambiguates multiple actions touching
// the same path within one outcome, and the unix timestamp disambiguates
// across retried or re-dispatched tasks reusing the same taskID prefix.
func objectKey(projectID, taskID string, index int, path string) string {
	if path == "" {
		path = fmt.Sprintf("action-%d", index)
	}
	return fmt.Sprintf("%s/%s/%d-%d-%s", projectID, taskID, time.Now().Unix(), index, path)
}

func fileBytes(f *dispatch.FileContent) []byte {
	if f == nil {
		return nil
	}
	if f.Encoding == "base64" {
		if decoded, err := base64.StdEncoding.DecodeString(f.Data); err == nil {
			return decoded
		}
	}
	return []byte(f.Data)
}
