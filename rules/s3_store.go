package rules

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/liamcoop/incentives/registry"
)

// S3API is the subset of the S3 client used by S3RuleStore.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	s3.ListObjectsV2APIClient
}

// S3RuleStore reads rule documents from an S3 bucket laid out like the
// registry directory: <prefix>/<CODE>.json.
type S3RuleStore struct {
	client S3API
	bucket string
	prefix string
}

// NewS3RuleStore creates a store for bucket under prefix (may be empty).
func NewS3RuleStore(client S3API, bucket, prefix string) *S3RuleStore {
	return &S3RuleStore{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

func (s *S3RuleStore) key(code string) string {
	return path.Join(s.prefix, registry.ResourceName(code))
}

func (s *S3RuleStore) location() string {
	if s.prefix == "" {
		return "s3://" + s.bucket
	}
	return "s3://" + s.bucket + "/" + s.prefix
}

// Get fetches and parses the object for code.
func (s *S3RuleStore) Get(ctx context.Context, code string) (*RuleDefinition, error) {
	normalized := registry.NormalizeCode(code)
	if normalized == "" {
		return nil, &registry.NotFoundError{Code: normalized, Root: s.location()}
	}

	key := s.key(normalized)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, &registry.NotFoundError{Code: normalized, Root: s.location()}
		}
		return nil, fmt.Errorf("failed to get rule object %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule object %s: %w", key, err)
	}

	rule, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load rule %s: %w", key, err)
	}
	return rule, nil
}

// ListCodes lists <CODE>.json objects directly under the prefix.
func (s *S3RuleStore) ListCodes(ctx context.Context) ([]string, error) {
	listPrefix := ""
	if s.prefix != "" {
		listPrefix = s.prefix + "/"
	}

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(listPrefix),
	})

	seen := make(map[string]struct{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list rule objects in %s: %w", s.location(), err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), listPrefix)
			if strings.Contains(name, "/") || path.Ext(name) != registry.Extension {
				continue
			}
			if code := registry.NormalizeCode(strings.TrimSuffix(name, registry.Extension)); code != "" {
				seen[code] = struct{}{}
			}
		}
	}

	codes := make([]string, 0, len(seen))
	for code := range seen {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, nil
}
