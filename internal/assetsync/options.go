package assetsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/assetd/internal/log"
)

var ErrInvalidOptions = errors.New("assetsync: invalid options")

// DefaultMaxObjectSize caps a single mirrored object.
const DefaultMaxObjectSize int64 = 64 << 20

// S3API is the subset of *s3.Client the syncer calls. It also satisfies
// s3.ListObjectsV2APIClient for the paginator.
type S3API interface {
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// SSMAPI is the subset of *ssm.Client the syncer calls.
type SSMAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Metrics is implemented by *metrics.ServerMetrics.
type Metrics interface {
	IncSyncObject(result string)
	ObserveSyncDuration(seconds float64)
	SetSyncLastSuccess(t time.Time)
	SetSyncRelease(release string)
}

type Options struct {
	Logger log.Logger

	// SSMParam optionally names a parameter holding the release id that is
	// appended to S3Prefix.
	SSMParam string

	S3Bucket string
	S3Prefix string

	// StaticDir is the destination; it is created if missing.
	StaticDir string

	MaxObjectSize int64 // default: DefaultMaxObjectSize

	Metrics Metrics

	// Clients are built from AWSConfig, or the default AWS config chain,
	// when nil.
	S3Client  S3API
	SSMClient SSMAPI
	AWSConfig *aws.Config
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.MaxObjectSize <= 0 {
		o.MaxObjectSize = DefaultMaxObjectSize
	}
	if o.Metrics == nil {
		o.Metrics = nopMetrics{}
	}
}

func (o *Options) validate() error {
	if o.S3Bucket == "" {
		return fmt.Errorf("%w: S3Bucket is required", ErrInvalidOptions)
	}
	if o.StaticDir == "" {
		return fmt.Errorf("%w: StaticDir is required", ErrInvalidOptions)
	}
	return nil
}

type nopMetrics struct{}

func (nopMetrics) IncSyncObject(string)         {}
func (nopMetrics) ObserveSyncDuration(float64)  {}
func (nopMetrics) SetSyncLastSuccess(time.Time) {}
func (nopMetrics) SetSyncRelease(string)        {}
