/*
Copyright 2024.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/slipway-sh/deployer/internal/approval"
	"github.com/slipway-sh/deployer/internal/buildinfo"
	"github.com/slipway-sh/deployer/internal/canary"
	"github.com/slipway-sh/deployer/internal/changedetect"
	"github.com/slipway-sh/deployer/internal/cluster"
	"github.com/slipway-sh/deployer/internal/config"
	"github.com/slipway-sh/deployer/internal/heartbeat"
	"github.com/slipway-sh/deployer/internal/hooks"
	"github.com/slipway-sh/deployer/internal/hooks/controlplane"
	"github.com/slipway-sh/deployer/internal/hooks/pubsub"
	"github.com/slipway-sh/deployer/internal/hooks/slack"
	"github.com/slipway-sh/deployer/internal/lock"
	"github.com/slipway-sh/deployer/internal/metrics"
	"github.com/slipway-sh/deployer/internal/model"
	"github.com/slipway-sh/deployer/internal/pipeline"
	"github.com/slipway-sh/deployer/internal/resolver"
	"github.com/slipway-sh/deployer/internal/rollback"
	"github.com/slipway-sh/deployer/internal/slot"

	// Import all Kubernetes client auth plugins (e.g. Azure, GCP, OIDC, etc.)
	// to ensure that exec-entrypoint and run can make use of them.
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	slipwayv1alpha1 "github.com/slipway-sh/deployer/api/v1alpha1"
	// +kubebuilder:scaffold:imports
)

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

// cliConfig holds all command-line configuration
type cliConfig struct {
	configPath      string
	repoPath        string
	scanResultsPath string

	ref         string
	trigger     string
	actor       string
	environment string
	imageRef    string
	override    bool
	force       bool

	rollbackEnv string

	clusterID        string
	stateNamespace   string
	lockHolder       string
	lockTTL          time.Duration
	slackWebhookURL  string
	controlPlaneURL  string
	heartbeatPeriod  time.Duration
	pubsubTopic      string
	identityURL      string
	approvalInboxURL string
	sloURL           string
	sloMaxErrorRate  float64
	sloMaxP95Ms      float64
	watchPaths       string
}

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(slipwayv1alpha1.AddToScheme(scheme))
	// +kubebuilder:scaffold:scheme
}

func main() {
	cli := parseFlags()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&zap.Options{Development: true})))
	metrics.Register()
	version := buildinfo.Version()

	cfg, err := config.Load(cli.configPath)
	if err != nil {
		setupLog.Error(err, "unable to load deployment configuration", "path", cli.configPath)
		os.Exit(1)
	}

	k8sClient, err := client.New(ctrl.GetConfigOrDie(), client.Options{Scheme: scheme})
	if err != nil {
		setupLog.Error(err, "unable to create Kubernetes client")
		os.Exit(1)
	}

	if cli.clusterID == "" {
		detectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		identity, err := cluster.NewDetector(3 * time.Second).Resolve(detectCtx)
		cancel()
		if err != nil {
			setupLog.Info("Could not detect cluster identity, audit events will carry no cluster id", "reason", err.Error())
		} else {
			cli.clusterID = identity.ClusterID
			setupLog.Info("Detected cluster identity", "clusterID", cli.clusterID, "provider", identity.Provider)
		}
	}

	auditChan := make(chan model.AuditEvent, 100)
	publishers, batchPublishers, stopPublishers := setupPublishers(cli)
	wg := startPublisherQueues(auditChan, publishers, batchPublishers)

	var progress pipeline.ProgressReporter
	var heartbeats *heartbeat.Sender
	if cli.controlPlaneURL != "" {
		heartbeats = heartbeat.NewSender(heartbeat.Config{
			Interval: cli.heartbeatPeriod,
			Source: model.SourceMetadata{
				ClusterID:       cli.clusterID,
				DeployerVersion: version,
			},
			Application: cfg.Application,
		}, []hooks.HeartbeatPublisher{controlplane.NewHTTPPublisher(cli.controlPlaneURL)})
		progress = heartbeats
	}

	runner := setupRunner(cli, cfg, k8sClient, auditChan, version, progress)

	ctx := ctrl.SetupSignalHandler()
	if heartbeats != nil {
		go heartbeats.Start(ctx)
	}
	exitCode := 0
	if cli.rollbackEnv != "" {
		if err := runner.ManualRollback(ctx, cli.rollbackEnv, cli.actor); err != nil {
			setupLog.Error(err, "rollback failed", "environment", cli.rollbackEnv)
			exitCode = 1
		}
	} else {
		exitCode = runDeployment(ctx, cli, cfg, runner)
	}

	if heartbeats != nil {
		heartbeats.Stop()
	}
	close(auditChan)
	wg.Wait()
	stopPublishers()
	os.Exit(exitCode)
}

func parseFlags() cliConfig {
	var cli cliConfig

	flag.StringVar(&cli.configPath, "config", "slipway.yaml",
		"Path to the application deployment configuration file")
	flag.StringVar(&cli.repoPath, "repo-path", ".",
		"Path to the git working copy the pipeline runs against")
	flag.StringVar(&cli.scanResultsPath, "scan-results", "",
		"Path to a JSON file with quality scanner results for this revision")

	flag.StringVar(&cli.ref, "ref", "", "Git ref that triggered this run (e.g. refs/heads/main)")
	flag.StringVar(&cli.trigger, "trigger", string(model.TriggerPush),
		"Trigger type: push, pull_request, or manual")
	flag.StringVar(&cli.actor, "actor", "", "Principal id of the user or system that triggered the run")
	flag.StringVar(&cli.environment, "environment", model.EnvironmentAuto,
		"Target environment, or 'auto' to resolve from the configured rules")
	flag.StringVar(&cli.imageRef, "image", "", "Fully qualified image reference to deploy")
	flag.BoolVar(&cli.override, "override-validation", false,
		"Skip trigger canonicality validation for explicit environment targeting")
	flag.BoolVar(&cli.force, "force", false,
		"Deploy even when no watched paths changed since the last deployment")

	flag.StringVar(&cli.rollbackEnv, "rollback", "",
		"Instead of deploying, roll the named environment back to its standby slot")

	flag.StringVar(&cli.clusterID, "cluster-id", os.Getenv("CLUSTER_ID"),
		"Unique identifier for this cluster (e.g. staging.stg01)")
	flag.StringVar(&cli.stateNamespace, "state-namespace", "slipway-system",
		"Namespace holding release state and deployment locks")
	flag.StringVar(&cli.lockHolder, "lock-holder", os.Getenv("HOSTNAME"),
		"Identity recorded on the deployment lock")
	flag.DurationVar(&cli.lockTTL, "lock-ttl", 30*time.Minute,
		"Time after which an unreleased deployment lock is considered stale")
	flag.StringVar(&cli.slackWebhookURL, "slack-webhook-url", "", "The URL to send slack notifications to")
	flag.StringVar(&cli.controlPlaneURL, "controlplane-url", "",
		"The URL of the Slipway control plane audit endpoint (e.g., http://controlplane:3000/ingest/v1/deployer/events)")
	flag.DurationVar(&cli.heartbeatPeriod, "heartbeat-interval", 30*time.Second,
		"How often to report run progress to the control plane")
	flag.StringVar(&cli.pubsubTopic, "pubsub-topic", os.Getenv("PUBSUB_TOPIC"),
		"Google Cloud Pub/Sub topic path (projects/<project>/topics/<topic>)")
	flag.StringVar(&cli.identityURL, "identity-url", "",
		"Base URL of the identity provider used for approval group membership")
	flag.StringVar(&cli.approvalInboxURL, "approval-inbox-url", "",
		"Base URL of the control plane approval inbox polled for responses")
	flag.StringVar(&cli.sloURL, "slo-url", "",
		"Base URL of the SLO metrics endpoint consulted during canary ramps")
	flag.Float64Var(&cli.sloMaxErrorRate, "slo-max-error-rate", 0.01,
		"Error rate ceiling above which a canary tick is unhealthy")
	flag.Float64Var(&cli.sloMaxP95Ms, "slo-max-p95-ms", 500,
		"p95 latency ceiling in milliseconds above which a canary tick is unhealthy")
	flag.StringVar(&cli.watchPaths, "watch-paths", "",
		"Comma-separated glob patterns restricting which changed paths warrant a deployment")

	opts := zap.Options{Development: true}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	return cli
}

func setupRunner(
	cli cliConfig,
	cfg *config.Config,
	k8sClient client.Client,
	auditChan chan<- model.AuditEvent,
	version string,
	progress pipeline.ProgressReporter,
) *pipeline.Runner {
	var identity approval.GroupMembership
	if cli.identityURL != "" {
		identity = approval.NewIdentityClient(cli.identityURL)
	} else {
		identity = noIdentity{}
	}
	authorizer := approval.NewAuthorizer(cfg, identity)

	detector, err := changedetect.Open(cli.repoPath, splitAndTrim(cli.watchPaths))
	if err != nil {
		setupLog.Error(err, "unable to open git repository", "path", cli.repoPath)
		os.Exit(1)
	}

	slots := slot.NewManager(k8sClient, cfg, cli.stateNamespace)
	locks := lock.New(k8sClient, cli.stateNamespace, lockHolder(cli), cfg.LockPolicy, cli.lockTTL)

	health := canary.Chain{canary.NewWorkloadEvaluator(k8sClient, cfg.Application)}
	if cli.sloURL != "" {
		health = append(health, canary.NewSLOEvaluator(cli.sloURL, cli.sloMaxErrorRate, cli.sloMaxP95Ms))
	}

	var notifier hooks.ApprovalNotifier
	if cli.slackWebhookURL != "" {
		notifier = slack.NewNotifier(cli.slackWebhookURL)
	}

	var responses approval.ResponseSource
	if cli.approvalInboxURL != "" {
		responses = approval.NewHTTPResponseSource(cli.approvalInboxURL, cfg.Application)
	} else {
		// A protected environment would block forever without a response
		// source; refuse to start before anything touches the cluster.
		for _, env := range cfg.Environments {
			if env.Protected {
				setupLog.Error(nil, "approval-inbox-url is required when protected environments are configured",
					"environment", env.Name)
				os.Exit(1)
			}
		}
	}

	return pipeline.NewRunner(pipeline.Options{
		Config:    cfg,
		Resolver:  resolver.New(cfg, authorizer),
		Detector:  detector,
		Gate:      approval.NewGate(authorizer, 15*time.Second),
		Approvals: responses,
		Notifier:  notifier,
		Slots:     slots,
		Locks:     locks,
		Rollback:  rollback.NewCoordinator(cfg.Application, slots, locks),
		Health:    health,
		AuditChan: auditChan,
		Progress:  progress,
		Source: model.SourceMetadata{
			ClusterID:       cli.clusterID,
			DeployerVersion: version,
		},
	})
}

func runDeployment(ctx context.Context, cli cliConfig, cfg *config.Config, runner *pipeline.Runner) int {
	scanResults, err := loadScanResults(cli.scanResultsPath)
	if err != nil {
		setupLog.Error(err, "unable to load scan results", "path", cli.scanResultsPath)
		return 1
	}

	result, err := runner.Run(ctx, pipeline.Inputs{
		Request: model.DeploymentRequest{
			Application:          cfg.Application,
			Ref:                  cli.ref,
			Trigger:              model.TriggerType(cli.trigger),
			Actor:                cli.actor,
			RequestedEnvironment: cli.environment,
			OverrideValidation:   cli.override,
			ForceDeploy:          cli.force,
		},
		ImageRef:    cli.imageRef,
		ScanResults: scanResults,
	})
	if err != nil {
		setupLog.Error(err, "deployment did not complete")
		return 1
	}

	if result.Promoted {
		setupLog.Info("deployment promoted",
			"environment", result.Decision.TargetEnvironment,
			"slot", result.Slot.Color,
			"image", cli.imageRef)
	} else {
		setupLog.Info("no deployment performed", "ref", cli.ref)
	}
	return 0
}

func setupPublishers(cli cliConfig) ([]hooks.AuditPublisher, []hooks.BatchAuditPublisher, func()) {
	var publishers []hooks.AuditPublisher
	var batchPublishers []hooks.BatchAuditPublisher
	stop := func() {}

	if cli.slackWebhookURL != "" {
		slackPublisher := slack.NewNotifier(cli.slackWebhookURL)
		publishers = append(publishers, slackPublisher)
		setupLog.Info("Slack publisher enabled", "webhook", cli.slackWebhookURL)
	}

	if cli.controlPlaneURL != "" {
		cpPublisher := controlplane.NewHTTPPublisher(cli.controlPlaneURL)
		batchPublishers = append(batchPublishers, cpPublisher)
		setupLog.Info("Control plane publisher enabled", "endpoint", cli.controlPlaneURL)
	}

	if cli.pubsubTopic != "" {
		if cli.clusterID == "" {
			setupLog.Error(nil, "cluster-id is required when pubsub is enabled")
			os.Exit(1)
		}
		ctx := context.Background()
		pubsubPublisher, err := pubsub.NewPubSubPublisher(ctx, cli.pubsubTopic, cli.clusterID)
		if err != nil {
			setupLog.Error(err, "unable to create Pub/Sub publisher",
				"hint", "Ensure valid credentials via Workload Identity, GOOGLE_APPLICATION_CREDENTIALS, or gcloud auth")
			os.Exit(1)
		}
		publishers = append(publishers, pubsubPublisher)
		stop = pubsubPublisher.Stop
		setupLog.Info("Google Pub/Sub publisher enabled",
			"topic", cli.pubsubTopic,
			"clusterID", cli.clusterID)
	}

	if len(publishers) == 0 && len(batchPublishers) == 0 {
		setupLog.Info("No audit publishers configured, events will only be exported as metrics")
	}

	return publishers, batchPublishers, stop
}

// startPublisherQueues fans the audit channel out to the single-event queue
// and, when batch publishers exist, the batching queue.
func startPublisherQueues(
	auditChan <-chan model.AuditEvent,
	publishers []hooks.AuditPublisher,
	batchPublishers []hooks.BatchAuditPublisher,
) *sync.WaitGroup {
	var wg sync.WaitGroup

	singleChan := make(chan model.AuditEvent, 100)
	var batchChan chan model.AuditEvent
	if len(batchPublishers) > 0 {
		batchChan = make(chan model.AuditEvent, 100)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for event := range auditChan {
			singleChan <- event
			if batchChan != nil {
				batchChan <- event
			}
		}
		close(singleChan)
		if batchChan != nil {
			close(batchChan)
		}
	}()

	queue := hooks.NewAuditPublisherQueue(singleChan, publishers)
	wg.Add(1)
	go func() {
		defer wg.Done()
		queue.Loop()
	}()

	if batchChan != nil {
		batchQueue := hooks.NewBatchAuditQueue(batchChan, batchPublishers, hooks.DefaultBatchConfig())
		wg.Add(1)
		go func() {
			defer wg.Done()
			batchQueue.Loop()
		}()
	}

	return &wg
}

func loadScanResults(path string) ([]model.QualityGateResult, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var results []model.QualityGateResult
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, err
	}
	return results, nil
}

func lockHolder(cli cliConfig) string {
	if cli.lockHolder != "" {
		return cli.lockHolder
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "slipway-deployer"
	}
	return hostname
}

// noIdentity denies all group membership checks; used when no identity
// provider is configured so that only explicit allow-lists authorize.
type noIdentity struct{}

func (noIdentity) IsMemberOf(context.Context, string, string) (bool, error) {
	return false, nil
}

// splitAndTrim splits a comma-separated string and trims whitespace from each element
func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
