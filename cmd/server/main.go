// Command server boots the loop-symphony HTTP API: it wires the store,
// registry, instruments, conductor, heartbeat scheduler and every
// request handler into one process and serves until an interrupt or
// terminate signal arrives.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mattdarbro/loop-symphony-sub001/internal/approval"
	"github.com/mattdarbro/loop-symphony-sub001/internal/conductor"
	"github.com/mattdarbro/loop-symphony-sub001/internal/config"
	"github.com/mattdarbro/loop-symphony-sub001/internal/core"
	"github.com/mattdarbro/loop-symphony-sub001/internal/domain"
	"github.com/mattdarbro/loop-symphony-sub001/internal/errtracker"
	"github.com/mattdarbro/loop-symphony-sub001/internal/events"
	"github.com/mattdarbro/loop-symphony-sub001/internal/fixtures"
	"github.com/mattdarbro/loop-symphony-sub001/internal/heartbeat"
	"github.com/mattdarbro/loop-symphony-sub001/internal/httpapi"
	"github.com/mattdarbro/loop-symphony-sub001/internal/instruments"
	"github.com/mattdarbro/loop-symphony-sub001/internal/knowledge"
	"github.com/mattdarbro/loop-symphony-sub001/internal/loop"
	"github.com/mattdarbro/loop-symphony-sub001/internal/privacy"
	"github.com/mattdarbro/loop-symphony-sub001/internal/registry"
	"github.com/mattdarbro/loop-symphony-sub001/internal/rooms"
	"github.com/mattdarbro/loop-symphony-sub001/internal/store"
	"github.com/mattdarbro/loop-symphony-sub001/internal/tasks"
	"github.com/mattdarbro/loop-symphony-sub001/internal/telemetry"
	"github.com/mattdarbro/loop-symphony-sub001/internal/toolsimpl"
	"github.com/mattdarbro/loop-symphony-sub001/internal/trust"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	logger := core.NewStdLogger()

	telemetryProvider, err := telemetry.New("loop-symphony", os.Stderr)
	if err != nil {
		log.Fatalf("telemetry init failed: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetryProvider.Shutdown(ctx); err != nil {
			logger.Warn("telemetry shutdown error", map[string]interface{}{"error": err.Error()})
		}
	}()

	backend, err := buildStore(cfg, logger)
	if err != nil {
		log.Fatalf("store init failed: %v", err)
	}

	reg := registry.New(registry.WithLogger(logger))
	registerTools(reg, cfg, logger)

	note, err := instruments.NewNote(reg)
	if err != nil {
		log.Fatalf("instrument init failed: %v", err)
	}
	research, err := instruments.NewResearch(reg,
		instruments.WithMaxIterations(cfg.ResearchMaxIterations),
		instruments.WithResearchLogger(logger),
	)
	if err != nil {
		log.Fatalf("instrument init failed: %v", err)
	}
	vision, err := instruments.NewVision(reg)
	if err != nil {
		logger.Warn("vision instrument unavailable", map[string]interface{}{"error": err.Error()})
		vision = nil
	}
	synthesis, err := instruments.NewSynthesis(reg)
	if err != nil {
		logger.Warn("synthesis instrument unavailable", map[string]interface{}{"error": err.Error()})
		synthesis = nil
	}

	roomRegistry := rooms.New(rooms.WithLogger(logger))
	roomClient := rooms.NewClient()
	falcon := instruments.NewFalcon(instruments.CapShellExecution, roomFinder{roomRegistry}, roomDelegator{roomClient, roomRegistry})

	resolveInstrument := func(mode conductor.Mode) (instruments.Instrument, bool) {
		switch mode {
		case conductor.ModeNote:
			return note, true
		case conductor.ModeResearch:
			return research, true
		case conductor.ModeVision:
			if vision == nil {
				return nil, false
			}
			return vision, true
		case conductor.ModeFalcon:
			return falcon, true
		default:
			return nil, false
		}
	}

	// resolveInstrumentByName is the seam the Composition Engine and Loop
	// Executor address instruments through: by their own declared Name()
	// rather than by routing Mode, since an arrangement can reuse the
	// same instrument across several phases or branches.
	resolveInstrumentByName := func(name string) (instruments.Instrument, bool) {
		switch name {
		case note.Name():
			return note, true
		case research.Name():
			return research, true
		case vision.Name():
			if vision == nil {
				return nil, false
			}
			return vision, true
		case falcon.Name():
			return falcon, true
		case "synthesis":
			if synthesis == nil {
				return nil, false
			}
			return synthesis, true
		default:
			return nil, false
		}
	}

	var promptRunner loop.PromptRunner
	if resolvedReasoning, err := reg.Resolve([]string{instruments.CapReasoning}, nil); err == nil {
		if reasoning, ok := resolvedReasoning[instruments.CapReasoning].(instruments.ReasoningTool); ok {
			promptRunner = reasoning
		}
	}
	if promptRunner == nil {
		logger.Warn("reasoning capability unavailable; loop prompt-action phases will fail", nil)
		promptRunner = unavailablePromptRunner{}
	}

	privacyClassifier := privacy.New(privacy.Options{})
	trustTracker := trust.NewTracker()
	policyEngine := trust.NewPolicyEngine(loadPolicyRules(cfg, logger))
	errTracker := errtracker.New()
	eventBus := events.New()
	taskManager := tasks.New()
	knowledgeManager := knowledge.New()
	approvalRouter := approval.New()
	seedKnowledge(knowledgeManager, cfg, logger)
	logToolFixtures(cfg, logger)

	cond := conductor.New(
		resolveInstrument,
		roomRegistry,
		roomClient,
		privacyClassifier,
		trustTracker,
		policyEngine,
		errTracker,
		eventBus,
		conductor.WithLogger(logger),
		conductor.WithInstrumentByName(resolveInstrumentByName),
		conductor.WithPromptRunner(promptRunner),
	)

	scheduler := heartbeat.New(
		heartbeatStoreAdapter{backend},
		conductorRunner{cond, approvalRouter},
		heartbeat.WithInterval(cfg.AutonomicHeartbeatInterval),
		heartbeat.WithLogger(logger),
	)
	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	go scheduler.Run(schedulerCtx)
	defer stopScheduler()

	handler := httpapi.New(backend, taskManager, eventBus, roomRegistry, cond, knowledgeManager, approvalRouter,
		httpapi.WithLogger(logger),
	)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: mux,
	}

	serveErrors := make(chan error, 1)
	go func() {
		logger.Info("server starting", map[string]interface{}{"addr": httpServer.Addr})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrors <- err
		}
		close(serveErrors)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErrors:
		if err != nil {
			log.Fatalf("server failed: %v", err)
		}
	case <-sigCh:
		logger.Info("shutting down", nil)
	}

	stopScheduler()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}

// buildStore returns a Redis-backed store when STORE_URL is configured,
// falling back to the in-process Memory store for single-node runs.
func buildStore(cfg *config.Config, logger core.Logger) (store.Store, error) {
	if cfg.StoreURL == "" {
		logger.Info("no STORE_URL configured, using in-memory store", nil)
		return store.NewMemory(), nil
	}
	return store.NewRedis(cfg.StoreURL, &store.RedisConfig{Logger: logger})
}

// registerTools binds the Anthropic and Tavily providers when their API
// keys are configured. A missing key only logs a warning here; main then
// exits if Note or Research cannot resolve its required capabilities,
// while Vision and Synthesis are left unavailable instead.
func registerTools(reg *registry.Registry, cfg *config.Config, logger core.Logger) {
	if cfg.AnthropicAPIKey != "" {
		client, err := toolsimpl.NewAnthropic(cfg.AnthropicAPIKey, toolsimpl.WithAnthropicLogger(logger))
		if err != nil {
			logger.Warn("anthropic provider disabled", map[string]interface{}{"error": err.Error()})
		} else if err := reg.Register(client); err != nil {
			logger.Warn("anthropic provider registration failed", map[string]interface{}{"error": err.Error()})
		}
	} else {
		logger.Warn("ANTHROPIC_API_KEY not set; reasoning/synthesis/analysis/vision capabilities unavailable", nil)
	}

	if cfg.TavilyAPIKey != "" {
		client, err := toolsimpl.NewTavily(cfg.TavilyAPIKey, toolsimpl.WithTavilyLogger(logger))
		if err != nil {
			logger.Warn("tavily provider disabled", map[string]interface{}{"error": err.Error()})
		} else if err := reg.Register(client); err != nil {
			logger.Warn("tavily provider registration failed", map[string]interface{}{"error": err.Error()})
		}
	} else {
		logger.Warn("TAVILY_API_KEY not set; web_search capability unavailable", nil)
	}
}

// loadPolicyRules returns the seed rule table the PolicyEngine starts
// with: the built-in defaults, plus anything dropped into
// cfg.PolicyFixturesDir as YAML. A fixture with the same Name as a
// default simply coexists as a second rule rather than overriding it —
// priority ordering decides which one a given evaluation sees first.
func loadPolicyRules(cfg *config.Config, logger core.Logger) []domain.PolicyRule {
	rules := trust.DefaultPolicyRules()
	fromDisk, err := fixtures.PolicyRules(cfg.PolicyFixturesDir, logger)
	if err != nil {
		logger.Warn("policy fixtures not loaded", map[string]interface{}{"error": err.Error()})
		return rules
	}
	return append(rules, fromDisk...)
}

// seedKnowledge loads KnowledgeEntry fixtures into mgr at startup so a
// fresh process starts with the same boundaries/capabilities facts
// every run, rather than an empty knowledge base.
func seedKnowledge(mgr *knowledge.Manager, cfg *config.Config, logger core.Logger) {
	entries, err := fixtures.KnowledgeEntries(cfg.KnowledgeFixturesDir, logger)
	if err != nil {
		logger.Warn("knowledge fixtures not loaded", map[string]interface{}{"error": err.Error()})
		return
	}
	for _, entry := range entries {
		mgr.Put(entry)
	}
	if len(entries) > 0 {
		logger.Info("seeded knowledge entries", map[string]interface{}{"count": len(entries)})
	}
}

// logToolFixtures loads declared ToolManifest fixtures purely as a
// startup diagnostic: it logs each declared tool's name and
// capabilities at info level. It does not compare them against what
// the registry actually holds.
func logToolFixtures(cfg *config.Config, logger core.Logger) {
	manifests, err := fixtures.ToolManifests(cfg.ToolFixturesDir, logger)
	if err != nil {
		logger.Warn("tool manifest fixtures not loaded", map[string]interface{}{"error": err.Error()})
		return
	}
	for _, m := range manifests {
		logger.Info("declared tool fixture", map[string]interface{}{"name": m.Name, "capabilities": m.Capabilities})
	}
}

// heartbeatStoreAdapter narrows store.Store to heartbeat.Store's
// smaller surface; the two interfaces diverge in method names because
// heartbeat.go was grounded on the scheduler's own vocabulary rather
// than the persistence layer's.
type heartbeatStoreAdapter struct {
	store.Store
}

func (h heartbeatStoreAdapter) ActiveHeartbeats(ctx context.Context) ([]domain.Heartbeat, error) {
	return h.Store.ListActiveHeartbeats(ctx)
}

func (h heartbeatStoreAdapter) LastSuccessfulRun(ctx context.Context, heartbeatID string) (*time.Time, error) {
	return h.Store.LastSuccessfulHeartbeatRun(ctx, heartbeatID)
}

func (h heartbeatStoreAdapter) SaveRun(ctx context.Context, run domain.HeartbeatRun) error {
	return h.Store.SaveHeartbeatRun(ctx, run)
}

// conductorRunner adapts Conductor.Execute's task-oriented signature to
// heartbeat.Runner's simpler Run(ctx, req) contract. A heartbeat run has
// no human on the other end of an approval prompt, so RequiresApproval
// and PolicyDenied both surface as errors rather than hanging.
type conductorRunner struct {
	conductor *conductor.Conductor
	approvals *approval.Router
}

func (c conductorRunner) Run(ctx context.Context, req domain.TaskRequest) (domain.TaskResponse, error) {
	taskID := uuid.NewString()
	outcome, err := c.conductor.Execute(ctx, taskID, req, c.approvals)
	if err != nil {
		return domain.TaskResponse{}, err
	}
	if outcome.PolicyDenied {
		return domain.TaskResponse{}, core.NewFrameworkError("conductorRunner.Run", "heartbeat", core.ErrPolicyDenied)
	}
	if outcome.RequiresApproval {
		return domain.TaskResponse{}, core.NewFrameworkError("conductorRunner.Run", "heartbeat", core.ErrApprovalRequired)
	}
	return outcome.Response, nil
}

// unavailablePromptRunner is the loop.PromptRunner fallback when no
// reasoning capability is registered, so a "prompt" phase fails loudly
// with a clear cause instead of a nil-pointer panic.
type unavailablePromptRunner struct{}

func (unavailablePromptRunner) Complete(ctx context.Context, prompt string) (string, error) {
	return "", core.NewFrameworkError("unavailablePromptRunner.Complete", "loop", core.ErrCapabilityUnresolved)
}

// roomFinder adapts rooms.Registry to instruments.RoomFinder.
type roomFinder struct {
	registry *rooms.Registry
}

func (f roomFinder) FindRoom(capability string) (string, bool) {
	room, ok := f.registry.GetBestRoomForTask(rooms.RoomRequest{RequiredCapabilities: []string{capability}})
	if !ok {
		return "", false
	}
	return room.RoomID, true
}

// roomDelegator adapts rooms.Client to instruments.RoomDelegator.
type roomDelegator struct {
	client   *rooms.Client
	registry *rooms.Registry
}

func (d roomDelegator) DelegateTo(ctx context.Context, roomID, query string, taskContext domain.TaskContext) (domain.InstrumentResult, error) {
	room, ok := d.registry.GetRoom(roomID)
	if !ok {
		return domain.InstrumentResult{}, core.NewFrameworkError("roomDelegator.DelegateTo", "rooms", core.ErrRoomNotFound)
	}
	result := d.client.Delegate(ctx, *room, query, "falcon", nil)
	if !result.Success {
		return domain.InstrumentResult{}, fmt.Errorf("room delegation failed: %s", result.Error)
	}
	return result.Response.Result, nil
}
