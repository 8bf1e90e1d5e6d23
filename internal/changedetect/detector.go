// Package changedetect decides whether a build is actually required by
// diffing the worktree against the last successful deployment tag.
package changedetect

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/slipway-sh/deployer/internal/model"
)

// Detector refines an environment decision by inspecting repository history.
type Detector struct {
	repo       *git.Repository
	watchPaths []string
}

// Open opens the repository at path. watchPaths optionally restricts which
// changed files count as a deployable change (glob patterns); empty means any
// change counts.
func Open(path string, watchPaths []string) (*Detector, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}
	return &Detector{repo: repo, watchPaths: watchPaths}, nil
}

// NewFromRepo wraps an already open repository.
func NewFromRepo(repo *git.Repository, watchPaths []string) *Detector {
	return &Detector{repo: repo, watchPaths: watchPaths}
}

// deployTag is the tag recording the last successful deployment of an
// application into an environment.
func deployTag(application, environment string) string {
	return fmt.Sprintf("deploy/%s/%s", application, environment)
}

// ShouldDeploy refines the resolver's verdict. ForceDeploy always deploys;
// absence of any prior successful deployment forces a deploy unconditionally,
// bypassing diff evaluation.
func (d *Detector) ShouldDeploy(ctx context.Context, decision model.EnvironmentDecision, req model.DeploymentRequest) (bool, error) {
	logger := log.FromContext(ctx).WithName("change-detector")

	if !decision.ShouldDeploy {
		return false, nil
	}
	if req.ForceDeploy {
		logger.Info("Force deploy requested, skipping diff evaluation",
			"application", req.Application,
			"environment", decision.TargetEnvironment,
		)
		return true, nil
	}

	tag := deployTag(req.Application, decision.TargetEnvironment)
	lastHash, err := d.resolveTag(tag)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			// First run for this (application, environment).
			logger.Info("No prior deployment tag, deploying unconditionally", "tag", tag)
			return true, nil
		}
		return false, err
	}

	head, err := d.repo.Head()
	if err != nil {
		return false, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	if head.Hash() == lastHash {
		return false, nil
	}

	changed, err := d.changedPaths(lastHash, head.Hash())
	if err != nil {
		return false, err
	}

	for _, path := range changed {
		if d.pathMatters(path) {
			logger.Info("Change detected since last deployment", "tag", tag, "path", path)
			return true, nil
		}
	}
	return false, nil
}

// MarkDeployed moves the deployment tag to the given commit after a
// successful promotion.
func (d *Detector) MarkDeployed(application, environment string, hash plumbing.Hash) error {
	tag := deployTag(application, environment)
	if _, err := d.repo.Tag(tag); err == nil {
		if err := d.repo.DeleteTag(tag); err != nil {
			return fmt.Errorf("failed to move deployment tag %q: %w", tag, err)
		}
	}
	if _, err := d.repo.CreateTag(tag, hash, nil); err != nil {
		return fmt.Errorf("failed to create deployment tag %q: %w", tag, err)
	}
	return nil
}

// Head returns the current HEAD commit hash.
func (d *Detector) Head() (plumbing.Hash, error) {
	head, err := d.repo.Head()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	return head.Hash(), nil
}

func (d *Detector) resolveTag(tag string) (plumbing.Hash, error) {
	hash, err := d.repo.ResolveRevision(plumbing.Revision("refs/tags/" + tag))
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return plumbing.ZeroHash, plumbing.ErrReferenceNotFound
		}
		return plumbing.ZeroHash, fmt.Errorf("failed to resolve tag %q: %w", tag, err)
	}
	return *hash, nil
}

func (d *Detector) changedPaths(from, to plumbing.Hash) ([]string, error) {
	fromTree, err := d.commitTree(from)
	if err != nil {
		return nil, err
	}
	toTree, err := d.commitTree(to)
	if err != nil {
		return nil, err
	}

	changes, err := object.DiffTree(fromTree, toTree)
	if err != nil {
		return nil, fmt.Errorf("failed to diff trees: %w", err)
	}

	paths := make([]string, 0, len(changes))
	for _, change := range changes {
		if change.From.Name != "" {
			paths = append(paths, change.From.Name)
		}
		if change.To.Name != "" && change.To.Name != change.From.Name {
			paths = append(paths, change.To.Name)
		}
	}
	return paths, nil
}

func (d *Detector) commitTree(hash plumbing.Hash) (*object.Tree, error) {
	commit, err := d.repo.CommitObject(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to load commit %s: %w", hash, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to load tree for %s: %w", hash, err)
	}
	return tree, nil
}

func (d *Detector) pathMatters(path string) bool {
	if len(d.watchPaths) == 0 {
		return true
	}
	for _, pattern := range d.watchPaths {
		if matched, err := filepath.Match(pattern, path); err == nil && matched {
			return true
		}
	}
	return false
}
