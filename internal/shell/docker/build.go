package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/moby/patternmatcher/ignorefile"
)

const defaultDockerfile = "Dockerfile"

// =============================================================================
// Image Build
// =============================================================================

// BuildImage builds an image from spec.ContextDir honouring .dockerignore.
// A build whose output stream reports an error returns ErrBuildFailed.
func (d *DockerClient) BuildImage(ctx context.Context, spec BuildSpec) error {
	tag := strings.Join(spec.Tags, ",")

	info, err := os.Stat(spec.ContextDir)
	if err != nil || !info.IsDir() {
		return NewDockerError("BuildImage", "image", tag, fmt.Sprintf("context %q is not a directory", spec.ContextDir), ErrInvalidContext)
	}

	dockerfile := spec.Dockerfile
	if dockerfile == "" {
		dockerfile = defaultDockerfile
	}

	excludes, err := ReadDockerignore(spec.ContextDir, dockerfile)
	if err != nil {
		return NewDockerError("BuildImage", "image", tag, err.Error(), ErrInvalidContext)
	}

	buildCtx, err := archive.TarWithOptions(spec.ContextDir, &archive.TarOptions{ExcludePatterns: excludes})
	if err != nil {
		return NewDockerError("BuildImage", "image", tag, fmt.Sprintf("failed to create build context: %v", err), ErrInvalidContext)
	}
	defer buildCtx.Close()

	resp, err := d.cli.ImageBuild(ctx, buildCtx, build.ImageBuildOptions{
		Tags:        spec.Tags,
		Dockerfile:  dockerfile,
		Platform:    spec.Platform,
		NoCache:     spec.NoCache,
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return NewDockerError("BuildImage", "image", tag, err.Error(), ErrBuildFailed)
	}
	defer resp.Body.Close()

	out := spec.Output
	if out == nil {
		out = io.Discard
	}

	// The daemon reports build step failures inside the stream, not via the HTTP status.
	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, out, 0, false, nil); err != nil {
		var jerr *jsonmessage.JSONError
		if errors.As(err, &jerr) {
			return NewDockerError("BuildImage", "image", tag, jerr.Message, ErrBuildFailed)
		}
		return NewDockerError("BuildImage", "image", tag, err.Error(), ErrBuildFailed)
	}

	return nil
}

// ReadDockerignore returns the exclude patterns of contextDir/.dockerignore.
// A missing file yields no patterns. The Dockerfile and the ignore file
// itself are always kept in the context.
func ReadDockerignore(contextDir, dockerfile string) ([]string, error) {
	f, err := os.Open(filepath.Join(contextDir, ".dockerignore"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open .dockerignore: %w", err)
	}
	defer f.Close()

	patterns, err := ignorefile.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("parse .dockerignore: %w", err)
	}
	if len(patterns) == 0 {
		return nil, nil
	}

	if dockerfile == "" {
		dockerfile = defaultDockerfile
	}
	return append(patterns, "!"+filepath.ToSlash(dockerfile), "!.dockerignore"), nil
}

// =============================================================================
// Git Build Context
// =============================================================================

// CloneBuildContext shallow-clones url into a temporary directory for use as
// a build context. ref may be a branch name or a full reference. The returned
// cleanup removes the directory.
func CloneBuildContext(ctx context.Context, url, ref string, progress io.Writer) (string, func(), error) {
	dir, err := os.MkdirTemp("", "deploycheck-build-*")
	if err != nil {
		return "", nil, NewDockerError("CloneBuildContext", "", "", fmt.Sprintf("failed to create temp dir: %v", err), ErrInvalidContext)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	opts := &git.CloneOptions{
		URL:      url,
		Progress: progress,
		Depth:    1,
	}
	if ref != "" {
		opts.ReferenceName = referenceName(ref)
		opts.SingleBranch = true
	}

	if _, err := git.PlainCloneContext(ctx, dir, false, opts); err != nil {
		cleanup()
		return "", nil, NewDockerError("CloneBuildContext", "", "", fmt.Sprintf("failed to clone %s: %v", url, err), ErrInvalidContext)
	}

	return dir, cleanup, nil
}

func referenceName(ref string) plumbing.ReferenceName {
	if strings.HasPrefix(ref, "refs/") {
		return plumbing.ReferenceName(ref)
	}
	return plumbing.NewBranchReferenceName(ref)
}
