package changedetect

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/slipway-sh/deployer/internal/model"
)

// testRepo creates a repository with one initial commit and returns it with
// its worktree.
func testRepo(t *testing.T) (*git.Repository, *git.Worktree, string) {
	t.Helper()
	dir := t.TempDir()

	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("Failed to init repository: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Failed to get worktree: %v", err)
	}

	writeAndCommit(t, wt, dir, "app/main.go", "package main\n", "initial commit")
	return repo, wt, dir
}

func writeAndCommit(t *testing.T, wt *git.Worktree, dir, path, content, message string) {
	t.Helper()
	full := filepath.Join(dir, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if _, err := wt.Add(path); err != nil {
		t.Fatalf("Failed to stage %s: %v", path, err)
	}
	_, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	if err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}
}

func deployDecision() model.EnvironmentDecision {
	return model.EnvironmentDecision{
		TargetEnvironment: "staging",
		ShouldDeploy:      true,
		ClusterBinding:    model.ClusterBinding{ClusterID: "staging.stg01", NamespacePrefix: "checkout-staging"},
	}
}

func deployRequest() model.DeploymentRequest {
	return model.DeploymentRequest{Application: "checkout", Ref: "refs/heads/develop", Trigger: model.TriggerPush}
}

func TestDetector_ShouldDeploy_FirstRun(t *testing.T) {
	repo, _, _ := testRepo(t)
	d := NewFromRepo(repo, nil)

	// No deployment tag exists yet: deploy unconditionally.
	deploy, err := d.ShouldDeploy(context.Background(), deployDecision(), deployRequest())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !deploy {
		t.Error("Expected first run to deploy unconditionally")
	}
}

func TestDetector_ShouldDeploy_NoChangesSinceTag(t *testing.T) {
	repo, _, _ := testRepo(t)
	d := NewFromRepo(repo, nil)

	head, err := d.Head()
	if err != nil {
		t.Fatalf("Failed to resolve HEAD: %v", err)
	}
	if err := d.MarkDeployed("checkout", "staging", head); err != nil {
		t.Fatalf("Failed to mark deployed: %v", err)
	}

	deploy, err := d.ShouldDeploy(context.Background(), deployDecision(), deployRequest())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if deploy {
		t.Error("Expected no deploy when HEAD equals the deployment tag")
	}
}

func TestDetector_ShouldDeploy_ChangesSinceTag(t *testing.T) {
	repo, wt, dir := testRepo(t)
	d := NewFromRepo(repo, nil)

	head, err := d.Head()
	if err != nil {
		t.Fatalf("Failed to resolve HEAD: %v", err)
	}
	if err := d.MarkDeployed("checkout", "staging", head); err != nil {
		t.Fatalf("Failed to mark deployed: %v", err)
	}

	writeAndCommit(t, wt, dir, "app/handler.go", "package main\n// handler\n", "add handler")

	deploy, err := d.ShouldDeploy(context.Background(), deployDecision(), deployRequest())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !deploy {
		t.Error("Expected deploy after a new commit")
	}
}

func TestDetector_ShouldDeploy_WatchPaths(t *testing.T) {
	repo, wt, dir := testRepo(t)
	d := NewFromRepo(repo, []string{"app/*"})

	head, err := d.Head()
	if err != nil {
		t.Fatalf("Failed to resolve HEAD: %v", err)
	}
	if err := d.MarkDeployed("checkout", "staging", head); err != nil {
		t.Fatalf("Failed to mark deployed: %v", err)
	}

	// A change outside the watched paths does not warrant a deployment.
	writeAndCommit(t, wt, dir, "docs/README.md", "# checkout\n", "document the service")

	deploy, err := d.ShouldDeploy(context.Background(), deployDecision(), deployRequest())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if deploy {
		t.Error("Expected docs-only change to be ignored")
	}

	// A change inside the watched paths does.
	writeAndCommit(t, wt, dir, "app/handler.go", "package main\n// handler\n", "add handler")

	deploy, err = d.ShouldDeploy(context.Background(), deployDecision(), deployRequest())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !deploy {
		t.Error("Expected watched-path change to warrant a deployment")
	}
}

func TestDetector_ShouldDeploy_ForceOverridesDiff(t *testing.T) {
	repo, _, _ := testRepo(t)
	d := NewFromRepo(repo, nil)

	head, err := d.Head()
	if err != nil {
		t.Fatalf("Failed to resolve HEAD: %v", err)
	}
	if err := d.MarkDeployed("checkout", "staging", head); err != nil {
		t.Fatalf("Failed to mark deployed: %v", err)
	}

	req := deployRequest()
	req.ForceDeploy = true
	deploy, err := d.ShouldDeploy(context.Background(), deployDecision(), req)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !deploy {
		t.Error("Expected force flag to deploy despite no changes")
	}
}

func TestDetector_ShouldDeploy_RespectsResolverVerdict(t *testing.T) {
	repo, _, _ := testRepo(t)
	d := NewFromRepo(repo, nil)

	deploy, err := d.ShouldDeploy(context.Background(), model.NoDeploy(), deployRequest())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if deploy {
		t.Error("Expected a no-deploy decision to pass through unchanged")
	}
}

func TestDetector_MarkDeployed_MovesTag(t *testing.T) {
	repo, wt, dir := testRepo(t)
	d := NewFromRepo(repo, nil)

	first, err := d.Head()
	if err != nil {
		t.Fatalf("Failed to resolve HEAD: %v", err)
	}
	if err := d.MarkDeployed("checkout", "staging", first); err != nil {
		t.Fatalf("Failed to mark deployed: %v", err)
	}

	writeAndCommit(t, wt, dir, "app/handler.go", "package main\n// handler\n", "add handler")
	second, err := d.Head()
	if err != nil {
		t.Fatalf("Failed to resolve HEAD: %v", err)
	}
	if err := d.MarkDeployed("checkout", "staging", second); err != nil {
		t.Fatalf("Failed to move deployment tag: %v", err)
	}

	hash, err := d.resolveTag("deploy/checkout/staging")
	if err != nil {
		t.Fatalf("Failed to resolve moved tag: %v", err)
	}
	if hash != second {
		t.Errorf("Expected tag at %s, got %s", second, hash)
	}

	// Tags are scoped per (application, environment).
	if _, err := d.resolveTag("deploy/checkout/production"); err == nil {
		t.Error("Expected no production tag to exist")
	}
}
