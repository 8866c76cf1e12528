package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/synapseshield/shield/internal/domain"
)

// S3Config configures the S3 artifact backend.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // S3-compatible services (MinIO, etc.)
	// Static credentials. Leave empty to use the default AWS credential chain.
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	UsePathStyle    bool
}

// S3Store keeps artifacts as objects in an S3 bucket.
//
// S3 has no multi-object transaction, so the store mirrors FileStore: every
// write uploads a complete generation under <prefix>gen-<uuid>/ and then
// replaces the <prefix>CURRENT manifest, which names the generation and its
// keys. Readers resolve keys through the manifest, so they see either the
// whole previous set or the whole new one.
type S3Store struct {
	mu     sync.Mutex // serializes writers in this process
	client *s3.Client
	cfg    S3Config
}

// s3Manifest is the body of the CURRENT object.
type s3Manifest struct {
	Generation string   `json:"generation"`
	Keys       []string `json:"keys"`
}

func (m *s3Manifest) has(key string) bool {
	return m != nil && slices.Contains(m.Keys, key)
}

// NewS3Store creates an S3-backed store.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required: %w", domain.ErrConfig)
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	var loadOpts []func(*config.LoadOptions) error
	loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
			// S3-compatible services often reject the default trailing
			// checksums.
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		})
	}

	return &S3Store{client: s3.NewFromConfig(awsCfg, s3Opts...), cfg: cfg}, nil
}

func (s *S3Store) objectKey(key string) string { return s.cfg.Prefix + key }

func (s *S3Store) genKey(gen, key string) string { return s.cfg.Prefix + gen + "/" + key }

// manifest reads CURRENT, or returns nil when nothing has been written.
func (s *S3Store) manifest(ctx context.Context) (*s3Manifest, error) {
	data, err := s.getObject(ctx, s.objectKey(currentFile))
	if errors.Is(err, domain.ErrArtifactNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m s3Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("corrupt %s: %w", currentFile, err)
	}
	return &m, nil
}

func (s *S3Store) getObject(ctx context.Context, objectKey string) ([]byte, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", objectKey, domain.ErrArtifactNotFound)
		}
		return nil, fmt.Errorf("s3 get %s: %w", objectKey, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read %s: %w", objectKey, err)
	}
	return data, nil
}

func (s *S3Store) putObject(ctx context.Context, objectKey string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(objectKey),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", objectKey, err)
	}
	return nil
}

func (s *S3Store) deleteObjects(ctx context.Context, gen string, keys []string) {
	for _, k := range keys {
		_, _ = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.cfg.Bucket),
			Key:    aws.String(s.genKey(gen, k)),
		})
	}
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	for attempt := 1; ; attempt++ {
		m, err := s.manifest(ctx)
		if err != nil {
			return nil, err
		}
		if !m.has(key) {
			return nil, fmt.Errorf("%s: %w", key, domain.ErrArtifactNotFound)
		}
		data, err := s.getObject(ctx, s.genKey(m.Generation, key))
		if !errors.Is(err, domain.ErrArtifactNotFound) || attempt == maxReadAttempts {
			return data, err
		}
		// A writer replaced the generation and removed the old one.
	}
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	return s.PutAll(ctx, map[string][]byte{key: data})
}

func (s *S3Store) PutAll(ctx context.Context, items map[string][]byte) error {
	return s.commit(ctx, items, nil)
}

func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	m, err := s.manifest(ctx)
	if err != nil {
		return false, err
	}
	return m.has(key), nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	return s.commit(ctx, nil, map[string]bool{key: true})
}

// commit uploads a new generation holding the previous artifacts, minus
// removed keys, plus items, then replaces CURRENT. Any failure before the
// manifest write leaves CURRENT, and so the visible set, untouched.
func (s *S3Store) commit(ctx context.Context, items map[string][]byte, removed map[string]bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	old, err := s.manifest(ctx)
	if err != nil {
		return err
	}

	next := s3Manifest{Generation: "gen-" + uuid.New().String()}
	abort := func(err error) error {
		s.deleteObjects(context.WithoutCancel(ctx), next.Generation, next.Keys)
		return err
	}

	// Carry forward untouched artifacts
	if old != nil {
		for _, k := range old.Keys {
			if removed[k] {
				continue
			}
			if _, overwritten := items[k]; overwritten {
				continue
			}
			data, err := s.getObject(ctx, s.genKey(old.Generation, k))
			if err != nil {
				return abort(fmt.Errorf("copy %s: %w", k, err))
			}
			if err := s.putObject(ctx, s.genKey(next.Generation, k), data); err != nil {
				return abort(err)
			}
			next.Keys = append(next.Keys, k)
		}
	}

	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := s.putObject(ctx, s.genKey(next.Generation, k), items[k]); err != nil {
			return abort(err)
		}
		next.Keys = append(next.Keys, k)
	}
	sort.Strings(next.Keys)

	body, err := json.Marshal(next)
	if err != nil {
		return abort(fmt.Errorf("encode manifest: %w", err))
	}
	if err := s.putObject(ctx, s.objectKey(currentFile), body); err != nil {
		return abort(fmt.Errorf("switch generation: %w", err))
	}

	if old != nil {
		s.deleteObjects(context.WithoutCancel(ctx), old.Generation, old.Keys)
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *s3types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	return strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "404")
}
