package tabular

// Source file staging. References are either local paths or remote URIs
// (s3://bucket/key, https://..., gcs::...). Remote files are fetched with
// hashicorp/go-getter into a temp directory owned by the StagedFile.

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-getter"
	"go.uber.org/zap"

	"github.com/teranos/dailyix/errors"
)

// StagedFile is a reference resolved to a readable local file.
type StagedFile struct {
	// Reference is the caller's input, kept for logs and results
	Reference string
	// LocalPath is what the parsers read
	LocalPath string
	// Downloaded is true when LocalPath lives in a directory the stager created
	Downloaded bool

	artifacts []string
	logger    *zap.SugaredLogger
}

// Cleanup removes every artifact staging created. Caller-supplied local
// files are never touched. Safe to call multiple times.
func (f *StagedFile) Cleanup() {
	for _, p := range f.artifacts {
		if err := os.RemoveAll(p); err != nil && f.logger != nil {
			f.logger.Warnw("Failed to clean up staged artifact", "path", p, "error", err)
			continue
		}
		if f.logger != nil {
			f.logger.Debugw("Cleaned up staged artifact", "path", p)
		}
	}
	f.artifacts = nil
}

// track registers a path for removal by Cleanup.
func (f *StagedFile) track(p string) {
	f.artifacts = append(f.artifacts, p)
}

// fetchFunc downloads src to the file dst.
type fetchFunc func(ctx context.Context, src, dst string) error

// Stager resolves file references to local paths.
type Stager struct {
	tempDir  string
	s3Region string
	fetch    fetchFunc
	logger   *zap.SugaredLogger
}

// NewStager creates a stager. An empty tempDir means os.TempDir().
func NewStager(tempDir, s3Region string, logger *zap.SugaredLogger) *Stager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Stager{
		tempDir:  tempDir,
		s3Region: s3Region,
		fetch:    getterFetch,
		logger:   logger,
	}
}

// IsRemote reports whether ref names a remote object rather than a local path.
func IsRemote(ref string) bool {
	if strings.Contains(ref, "::") {
		return true
	}
	i := strings.Index(ref, "://")
	if i <= 0 {
		return false
	}
	return !strings.EqualFold(ref[:i], "file")
}

// Stage returns a readable local file for ref. Remote references are
// downloaded first. The returned StagedFile must be cleaned up.
func (s *Stager) Stage(ctx context.Context, ref string) (*StagedFile, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, errors.Mark(errors.New("file reference is empty"), ErrFileAccess)
	}

	if !IsRemote(ref) {
		local, err := localPath(ref)
		if err != nil {
			return nil, err
		}
		if err := checkReadable(local); err != nil {
			return nil, err
		}
		return &StagedFile{Reference: ref, LocalPath: local, logger: s.logger}, nil
	}

	return s.download(ctx, ref)
}

func (s *Stager) download(ctx context.Context, ref string) (*StagedFile, error) {
	src, err := s.getterSource(ref)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(s.tempDir, "dailyix-stage-*")
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to create staging directory"), ErrTransientInfra)
	}

	staged := &StagedFile{Reference: ref, Downloaded: true, logger: s.logger}
	staged.track(dir)
	dst := filepath.Join(dir, remoteBaseName(ref))

	s.logger.Infow("Downloading remote file",
		"reference", ref,
		"source", src,
		"destination", dst,
	)

	if err := s.fetch(ctx, src, dst); err != nil {
		staged.Cleanup()
		err = errors.Mark(errors.Wrapf(err, "failed to download %s", ref), ErrTransientInfra)
		return nil, errors.WithDetail(err, fmt.Sprintf("Source: %s", src))
	}

	if err := checkReadable(dst); err != nil {
		staged.Cleanup()
		return nil, err
	}

	staged.LocalPath = dst
	return staged, nil
}

// getterSource rewrites ref into a go-getter source string.
// s3://bucket/key becomes s3::https://s3[-region].amazonaws.com/bucket/key.
func (s *Stager) getterSource(ref string) (string, error) {
	if strings.HasPrefix(strings.ToLower(ref), "s3://") {
		rest := ref[len("s3://"):]
		bucket, key, ok := strings.Cut(rest, "/")
		if !ok || bucket == "" || key == "" {
			return "", errors.Mark(errors.Newf("invalid S3 reference %q, expected s3://bucket/key", ref), ErrFileAccess)
		}
		host := "s3.amazonaws.com"
		if s.s3Region != "" {
			host = "s3-" + s.s3Region + ".amazonaws.com"
		}
		return fmt.Sprintf("s3::https://%s/%s/%s", host, bucket, key), nil
	}

	pwd, err := os.Getwd()
	if err != nil {
		pwd = "."
	}
	detected, err := getter.Detect(ref, pwd, getter.Detectors)
	if err != nil {
		return "", errors.Mark(errors.Wrapf(err, "unsupported file reference %q", ref), ErrFileAccess)
	}
	return detected, nil
}

func getterFetch(ctx context.Context, src, dst string) error {
	client := &getter.Client{
		Ctx:     ctx,
		Src:     src,
		Dst:     dst,
		Mode:    getter.ClientModeFile,
		Getters: getter.Getters,
	}
	return client.Get()
}

// remoteBaseName picks a file name for the downloaded copy.
func remoteBaseName(ref string) string {
	name := ref
	if i := strings.Index(name, "::"); i >= 0 {
		name = name[i+2:]
	}
	if u, err := url.Parse(name); err == nil && u.Path != "" {
		name = u.Path
	}
	base := path.Base(name)
	if base == "." || base == "/" || base == "" {
		return "download"
	}
	return base
}

func localPath(ref string) (string, error) {
	p := ref
	if strings.HasPrefix(strings.ToLower(p), "file://") {
		p = p[len("file://"):]
	}
	if strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errors.Mark(errors.Wrap(err, "failed to expand home directory"), ErrFileAccess)
		}
		p = filepath.Join(home, p[2:])
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", errors.Mark(errors.Wrapf(err, "invalid path %q", ref), ErrFileAccess)
	}
	return abs, nil
}

// checkReadable fails with ErrFileAccess unless path is a regular file we can open.
func checkReadable(p string) error {
	info, err := os.Stat(p)
	if os.IsNotExist(err) {
		return errors.Mark(errors.Newf("file not found: %s", p), ErrFileAccess)
	}
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "cannot stat %s", p), ErrFileAccess)
	}
	if info.IsDir() {
		return errors.Mark(errors.Newf("not a file: %s", p), ErrFileAccess)
	}

	f, err := os.Open(p)
	if err != nil {
		return errors.Mark(errors.Newf("file not readable: %s", p), ErrFileAccess)
	}
	f.Close()
	return nil
}
