package assetsync

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/assetd/internal/cryptoutil"
	"github.com/keithlinneman/assetd/internal/log"
	"github.com/keithlinneman/assetd/internal/pathutil"
	"github.com/keithlinneman/assetd/internal/xerrors"
)

// Object outcomes, used as the result label on sync metrics.
const (
	resultOK       = "ok"
	resultSkipped  = "skipped"
	resultRejected = "rejected"
	resultError    = "error"
)

const maxReleaseLen = 128

// Result summarizes one completed sync.
type Result struct {
	Release  string
	Prefix   string
	Objects  int
	Bytes    int64
	Rejected int
}

type Syncer struct {
	opts   Options
	s3     S3API
	ssm    SSMAPI
	logger log.Logger
}

// New builds a Syncer. AWS clients missing from opts are created from
// opts.AWSConfig or the default credential chain.
func New(ctx context.Context, opts Options) (*Syncer, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	s := &Syncer{
		opts:   opts,
		s3:     opts.S3Client,
		ssm:    opts.SSMClient,
		logger: opts.Logger.With("component", "assetsync"),
	}

	needSSM := opts.SSMParam != "" && s.ssm == nil
	if s.s3 == nil || needSSM {
		var awsCfg aws.Config
		if opts.AWSConfig != nil {
			awsCfg = *opts.AWSConfig
		} else {
			var err error
			awsCfg, err = config.LoadDefaultConfig(ctx)
			if err != nil {
				return nil, xerrors.Wrap(err, "load AWS config")
			}
		}
		if s.s3 == nil {
			s.s3 = s3.NewFromConfig(awsCfg)
		}
		if needSSM {
			s.ssm = ssm.NewFromConfig(awsCfg)
		}
	}
	return s, nil
}

// Run mirrors every object under the resolved prefix into StaticDir. Keys
// that would escape StaticDir or exceed MaxObjectSize are skipped and
// counted; any download or write failure aborts the sync.
func (s *Syncer) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	defer func() { s.opts.Metrics.ObserveSyncDuration(time.Since(start).Seconds()) }()

	release, err := s.release(ctx)
	if err != nil {
		return Result{}, err
	}
	prefix := objectPrefix(s.opts.S3Prefix, release)
	res := Result{Release: release, Prefix: prefix}

	if err := os.MkdirAll(s.opts.StaticDir, 0o755); err != nil {
		return res, xerrors.Wrapf(err, "create static folder %s", s.opts.StaticDir)
	}

	s.logger.Info(ctx, "asset sync starting",
		"bucket", s.opts.S3Bucket,
		"prefix", prefix,
		"release", release,
		"static_dir", s.opts.StaticDir,
	)

	pages := s3.NewListObjectsV2Paginator(s.s3, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.opts.S3Bucket),
		Prefix: aws.String(prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return res, xerrors.Wrapf(err, "list s3://%s/%s", s.opts.S3Bucket, prefix)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)

			dst, outcome := s.destination(prefix, key)
			switch outcome {
			case resultSkipped:
				s.opts.Metrics.IncSyncObject(resultSkipped)
				continue
			case resultRejected:
				res.Rejected++
				s.opts.Metrics.IncSyncObject(resultRejected)
				s.logger.Warn(ctx, "asset sync rejected key outside static folder", "key", key)
				continue
			}

			if size := aws.ToInt64(obj.Size); size > s.opts.MaxObjectSize {
				res.Rejected++
				s.opts.Metrics.IncSyncObject(resultRejected)
				s.logger.Warn(ctx, "asset sync rejected oversized object",
					"key", key, "size", size, "max_size", s.opts.MaxObjectSize)
				continue
			}

			n, err := s.fetch(ctx, key, dst)
			if err != nil {
				s.opts.Metrics.IncSyncObject(resultError)
				return res, err
			}
			res.Objects++
			res.Bytes += n
			s.opts.Metrics.IncSyncObject(resultOK)
		}
	}

	s.opts.Metrics.SetSyncLastSuccess(time.Now())
	if release != "" {
		s.opts.Metrics.SetSyncRelease(release)
	}
	s.logger.Info(ctx, "asset sync complete",
		"prefix", prefix,
		"release", release,
		"objects", res.Objects,
		"bytes", res.Bytes,
		"rejected", res.Rejected,
		"duration", time.Since(start),
	)
	return res, nil
}

// release returns the release id from SSM, or "" when no parameter is set.
func (s *Syncer) release(ctx context.Context) (string, error) {
	if s.opts.SSMParam == "" {
		return "", nil
	}
	out, err := s.ssm.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(s.opts.SSMParam),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", s.opts.SSMParam)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", s.opts.SSMParam)
	}
	v := strings.TrimSpace(*out.Parameter.Value)
	if v == "" {
		return "", xerrors.Newf("SSM parameter %s is empty", s.opts.SSMParam)
	}
	if !validRelease(v) {
		return "", xerrors.Newf("SSM parameter %s holds invalid release id %q", s.opts.SSMParam, v)
	}
	return v, nil
}

// validRelease accepts a single path segment, since the id becomes part of
// the listed prefix.
func validRelease(v string) bool {
	if len(v) > maxReleaseLen || v == "." || v == ".." {
		return false
	}
	return !strings.ContainsAny(v, "/\\\x00")
}

func objectPrefix(base, release string) string {
	var parts []string
	if b := strings.Trim(base, "/"); b != "" {
		parts = append(parts, b)
	}
	if release != "" {
		parts = append(parts, release)
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "/") + "/"
}

// destination maps key to a file under StaticDir. Directory markers and the
// prefix itself are skipped; anything SafeJoin refuses, or that resolves to
// StaticDir itself, is rejected.
func (s *Syncer) destination(prefix, key string) (string, string) {
	rel := strings.TrimPrefix(key, prefix)
	if rel == "" || strings.HasSuffix(rel, "/") {
		return "", resultSkipped
	}
	dst, err := pathutil.SafeJoin(s.opts.StaticDir, filepath.FromSlash(rel))
	if err != nil || dst == pathutil.Canonical(s.opts.StaticDir) {
		return "", resultRejected
	}
	return dst, ""
}

// fetch downloads key into dst via a temp file in the same directory.
func (s *Syncer) fetch(ctx context.Context, key, dst string) (n int64, err error) {
	out, err := s.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket:       aws.String(s.opts.S3Bucket),
		Key:          aws.String(key),
		ChecksumMode: s3types.ChecksumModeEnabled,
	})
	if err != nil {
		return 0, xerrors.Wrapf(err, "get S3 object s3://%s/%s", s.opts.S3Bucket, key)
	}
	defer out.Body.Close()

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, xerrors.Wrapf(err, "create directory for %s", key)
	}
	tmp, err := os.CreateTemp(dir, ".assetd-sync-*")
	if err != nil {
		return 0, xerrors.Wrapf(err, "create temp file for %s", key)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	limit := s.opts.MaxObjectSize
	d := cryptoutil.NewDigest()
	n, err = io.Copy(io.MultiWriter(tmp, d), io.LimitReader(out.Body, limit+1))
	if err != nil {
		return 0, xerrors.Wrapf(err, "download s3://%s/%s", s.opts.S3Bucket, key)
	}
	if n > limit {
		return 0, xerrors.Newf("s3://%s/%s: object too large (limit %d bytes)", s.opts.S3Bucket, key, limit)
	}

	// Multipart uploads report a composite "<sum>-<parts>" checksum that is
	// not a hash of the whole body.
	if want := aws.ToString(out.ChecksumSHA256); want != "" && !strings.Contains(want, "-") {
		if !cryptoutil.HashEqual(d.Base64(), want) {
			return 0, xerrors.WithStack(&ChecksumError{Key: key, Want: want, Got: d.Base64()})
		}
	}

	if err = tmp.Close(); err != nil {
		return 0, xerrors.Wrapf(err, "close temp file for %s", key)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return 0, xerrors.Wrapf(err, "chmod %s", key)
	}
	if err = os.Rename(tmp.Name(), dst); err != nil {
		return 0, xerrors.Wrapf(err, "rename into place %s", key)
	}

	s.logger.Debug(ctx, "asset mirrored", "key", key, "bytes", n, "sha256", d.Hex())
	return n, nil
}

// ChecksumError reports a body whose SHA-256 differs from the checksum S3
// returned with it.
type ChecksumError struct {
	Key  string
	Want string
	Got  string
}

func (e *ChecksumError) Error() string {
	return "checksum mismatch for " + e.Key + ": want " + e.Want + ", got " + e.Got
}

// IsChecksumError reports whether err is or wraps a *ChecksumError.
func IsChecksumError(err error) bool {
	var ce *ChecksumError
	return errors.As(err, &ce)
}
