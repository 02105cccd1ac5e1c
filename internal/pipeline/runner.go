// Package pipeline runs one daily story end to end: prompt generation,
// artifact jobs, post-processing, persistence and publishing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"dailystory/internal/clock"
	"dailystory/internal/domain"
	"dailystory/internal/imaging"
	"dailystory/internal/infra"
	"dailystory/internal/providers/artifact"
	"dailystory/internal/providers/prompt"
	"dailystory/internal/storage"
	"dailystory/internal/store"
	"dailystory/internal/taskexec"
)

// ArtifactStore materializes job results on disk.
type ArtifactStore interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
	Download(ctx context.Context, url, key string) (string, error)
}

// PostProcessor edits downloaded images.
type PostProcessor interface {
	CropQuadrant(path string, quadrant int) (string, error)
	Watermark(path, text string) error
}

// Publisher delivers the finished artifact to a chat.
type Publisher interface {
	SendText(ctx context.Context, chatID, text string) error
	SendPhoto(ctx context.Context, chatID, path, caption string) error
	SendVideo(ctx context.Context, chatID, path, caption string) error
}

// Deps are the collaborators a Runner owns for its whole life.
type Deps struct {
	Generator  prompt.Generator
	Providers  map[string]artifact.Provider
	Files      ArtifactStore
	Post       PostProcessor
	Sink       store.Sink
	Publisher  Publisher
	ChatID     string
	PromptsDir string
	Executor   *taskexec.Executor
	Clock      clock.Clock
	Logger     *infra.Logger
}

// Runner executes one Definition. A Runner is not safe for concurrent Run
// calls; the scheduler serializes them.
type Runner struct {
	def  Definition
	deps Deps
	clk  clock.Clock
	log  infra.Logger
}

// Result summarizes a successful run.
type Result struct {
	RunID        string
	RecordID     string
	ArtifactPath string
	Prompt       string
	Stages       []Stage
}

type stepOutput struct {
	job  domain.AsyncJob
	path string
}

// NewRunner validates def against the available providers.
func NewRunner(def Definition, deps Deps) (*Runner, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if deps.Generator == nil {
		return nil, fmt.Errorf("pipeline: %s: text generator is required", def.Name)
	}
	if deps.Files == nil || deps.Post == nil || deps.Sink == nil || deps.Publisher == nil {
		return nil, fmt.Errorf("pipeline: %s: storage, post-processor, sink and publisher are required", def.Name)
	}
	for _, s := range def.Steps {
		if _, ok := deps.Providers[s.Provider]; !ok {
			return nil, fmt.Errorf("pipeline: %s: provider %q is not configured", def.Name, s.Provider)
		}
	}
	clk := clock.OrReal(deps.Clock)
	if deps.Executor == nil {
		deps.Executor = taskexec.New(clk, deps.Logger)
	}
	return &Runner{def: def, deps: deps, clk: clk, log: infra.LoggerOrDiscard(deps.Logger)}, nil
}

// Name returns the runner name.
func (r *Runner) Name() string { return r.def.Name }

// Definition returns the runner's definition.
func (r *Runner) Definition() Definition { return r.def }

// Run executes the runner once. Any failure moves the run to FAILED and is
// returned; files and records already written are left in place.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if r.def.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.def.RunTimeout)
		defer cancel()
	}

	res := Result{RunID: uuid.NewString()}
	log := r.log.With().Str("runner", r.def.Name).Str("run_id", res.RunID).Logger()
	sm := newStageMachine()
	started := r.clk.Now()

	err := r.run(ctx, log, sm, &res)
	res.Stages = sm.history
	if err != nil {
		at := sm.fail()
		res.Stages = sm.history
		log.Error().Err(err).Str("stage", string(StageFailed)).Str("failed_at", string(at)).Dur("elapsed", r.clk.Now().Sub(started)).Msg("runner: run failed")
		return res, fmt.Errorf("%s: %w", r.def.Name, err)
	}
	log.Info().Str("stage", string(StageDone)).Str("artifact", res.ArtifactPath).Dur("elapsed", r.clk.Now().Sub(started)).Msg("runner: run finished")
	return res, nil
}

func (r *Runner) enter(log infra.Logger, sm *stageMachine, st Stage) error {
	if err := sm.advance(st); err != nil {
		return err
	}
	log.Debug().Str("stage", string(st)).Msg("runner: stage")
	return nil
}

func (r *Runner) run(ctx context.Context, log infra.Logger, sm *stageMachine, res *Result) error {
	now := r.clk.Now()

	tpl, err := domain.LoadPromptTemplate(filepath.Join(r.deps.PromptsDir, r.def.PromptFile))
	if err != nil {
		return err
	}
	tpl = tpl.Render(now)
	raw, err := r.deps.Generator.Generate(ctx, domain.GenerationRequest{
		SystemInstruction: tpl.System,
		UserInstruction:   tpl.User,
		Temperature:       r.def.Temperature,
		MaxOutputTokens:   r.def.MaxOutputTokens,
	})
	if err != nil {
		return fmt.Errorf("generate prompt: %w", err)
	}
	sep := r.def.PromptSeparator
	if sep == "" {
		sep = prompt.DefaultSeparator
	}
	generated := prompt.Sanitize(raw, prompt.SanitizeOptions{Separator: sep, MaxRunes: r.def.PromptMaxRunes})
	if generated == "" {
		return errors.New("generate prompt: model returned an empty prompt")
	}
	res.Prompt = generated
	if err := r.enter(log, sm, StagePromptGenerated); err != nil {
		return err
	}
	log.Info().Str("stage", string(StagePromptGenerated)).Str("prompt", generated).Msg("runner: prompt ready")

	var prev stepOutput
	for i, step := range r.def.Steps {
		last := i == len(r.def.Steps)-1
		out, err := r.runStep(ctx, log, sm, i, step, generated, prev, last, now)
		if err != nil {
			return err
		}
		prev = out
	}
	res.ArtifactPath = prev.path

	rec := domain.GenerationRecord{
		ID:                uuid.NewString(),
		Runner:            r.def.Name,
		Timestamp:         now,
		SystemInstruction: tpl.System,
		UserInstruction:   tpl.User,
		GeneratedPrompt:   generated,
		ArtifactLocation:  prev.path,
	}
	if err := r.deps.Sink.AppendRecord(ctx, rec); err != nil {
		return fmt.Errorf("persist record: %w", err)
	}
	res.RecordID = rec.ID
	if err := r.enter(log, sm, StagePersisted); err != nil {
		return err
	}

	if r.def.Announce != "" {
		if err := r.deps.Publisher.SendText(ctx, r.deps.ChatID, r.def.Announce); err != nil {
			return fmt.Errorf("publish text: %w", err)
		}
	}
	if r.def.FinalKind() == storage.MediaVideo {
		err = r.deps.Publisher.SendVideo(ctx, r.deps.ChatID, prev.path, "")
	} else {
		err = r.deps.Publisher.SendPhoto(ctx, r.deps.ChatID, prev.path, "")
	}
	if err != nil {
		return fmt.Errorf("publish artifact: %w", err)
	}
	if err := r.enter(log, sm, StagePublished); err != nil {
		return err
	}
	return r.enter(log, sm, StageDone)
}

// runStep drives one provider job through the executor. Intermediate steps
// only hand their result on; the last step is materialized and post-processed.
func (r *Runner) runStep(ctx context.Context, log infra.Logger, sm *stageMachine, idx int, step StepDefinition, generated string, prev stepOutput, last bool, now time.Time) (stepOutput, error) {
	provider := r.deps.Providers[step.Provider]
	req := artifact.Request{Prompt: generated, Params: step.Params}
	if step.PromptOverride != "" {
		req.Prompt = step.PromptOverride
	}
	if step.UsePreviousResult {
		if prev.job.ResultURL == "" {
			return stepOutput{}, fmt.Errorf("step %d: previous step produced no result URL", idx+1)
		}
		req.Params.SourceURL = prev.job.ResultURL
	}
	stepLog := log.With().Int("step", idx+1).Str("provider", step.Provider).Logger()

	task := fmt.Sprintf("%s.step%d", r.def.Name, idx+1)
	job, err := r.deps.Executor.ExecuteWithRetry(ctx, task, r.def.MaxRetries, r.def.RetryDelay, func(ctx context.Context) (domain.AsyncJob, error) {
		if checker, ok := provider.(artifact.AvailabilityChecker); ok && step.CheckAvailability {
			if err := checker.CheckAvailability(ctx, r.def.AvailabilityTimeout, r.def.PollInterval); err != nil {
				return domain.AsyncJob{}, err
			}
		}
		h, err := provider.Submit(ctx, req)
		if err != nil {
			return domain.AsyncJob{}, err
		}
		if err := r.enter(stepLog, sm, StageJobSubmitted); err != nil {
			return domain.AsyncJob{}, err
		}
		stepLog.Info().Str("stage", string(StageJobSubmitted)).Str("job_id", h.JobID).Msg("runner: job submitted")
		if err := r.enter(stepLog, sm, StageJobPolling); err != nil {
			return domain.AsyncJob{}, err
		}
		return artifact.WaitUntilDone(ctx, provider, h, artifact.WaitOptions{
			Timeout:  r.def.WaitTimeout,
			Interval: r.def.PollInterval,
			Clock:    r.clk,
			Logger:   &stepLog,
		})
	})
	if err != nil {
		return stepOutput{}, fmt.Errorf("step %d (%s): %w", idx+1, step.Provider, err)
	}
	if !last {
		return stepOutput{job: job}, nil
	}

	key := storage.Key(step.Kind, r.def.FilePrefix, now)
	var path string
	if len(job.ResultData) > 0 {
		path, err = r.deps.Files.Write(ctx, key, job.ResultData)
	} else {
		path, err = r.deps.Files.Download(ctx, job.ResultURL, key)
	}
	if err != nil {
		return stepOutput{}, fmt.Errorf("store artifact: %w", err)
	}
	if err := r.enter(stepLog, sm, StageArtifactReady); err != nil {
		return stepOutput{}, err
	}

	if step.Kind == storage.MediaPhoto {
		if step.CropQuadrant > 0 {
			if path, err = r.deps.Post.CropQuadrant(path, step.CropQuadrant); err != nil {
				return stepOutput{}, fmt.Errorf("crop: %w", err)
			}
		}
		if r.def.WatermarkLetter != "" {
			if err := r.deps.Post.Watermark(path, imaging.DateStamp(r.def.WatermarkLetter, now)); err != nil {
				return stepOutput{}, fmt.Errorf("watermark: %w", err)
			}
		}
	}
	if err := r.enter(stepLog, sm, StagePostProcessed); err != nil {
		return stepOutput{}, err
	}
	return stepOutput{job: job, path: path}, nil
}

// ImagePostProcessor adapts the imaging package to PostProcessor.
type ImagePostProcessor struct {
	Watermarker *imaging.Watermarker
}

func (p ImagePostProcessor) CropQuadrant(path string, quadrant int) (string, error) {
	return imaging.CropQuadrant(path, quadrant)
}

func (p ImagePostProcessor) Watermark(path, text string) error {
	return p.Watermarker.Apply(path, text)
}
