package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dailystory/internal/clock"
	"dailystory/internal/domain"
	"dailystory/internal/providers/artifact"
	"dailystory/internal/storage"
)

var runStart = time.Date(2024, 3, 7, 8, 0, 0, 0, time.UTC)

type stubGenerator struct {
	text  string
	err   error
	calls []domain.GenerationRequest
}

func (g *stubGenerator) Generate(ctx context.Context, req domain.GenerationRequest) (string, error) {
	g.calls = append(g.calls, req)
	return g.text, g.err
}

type stubProvider struct {
	name       string
	submitErrs []error
	results    []domain.AsyncJob
	requests   []artifact.Request
	polls      int
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Submit(ctx context.Context, req artifact.Request) (artifact.Handle, error) {
	p.requests = append(p.requests, req)
	n := len(p.requests)
	if n <= len(p.submitErrs) && p.submitErrs[n-1] != nil {
		return artifact.Handle{}, p.submitErrs[n-1]
	}
	return artifact.Handle{Provider: p.name, JobID: fmt.Sprintf("job-%d", n)}, nil
}

func (p *stubProvider) Poll(ctx context.Context, h artifact.Handle) (domain.AsyncJob, error) {
	p.polls++
	idx := len(p.requests) - 1 - len(p.submitErrs)
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.results) {
		idx = len(p.results) - 1
	}
	job := p.results[idx]
	job.ID = h.JobID
	return job, nil
}

type tempFiles struct {
	dir       string
	downloads []string
}

func (f *tempFiles) Write(ctx context.Context, key string, data []byte) (string, error) {
	path := filepath.Join(f.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	return path, os.WriteFile(path, data, 0o644)
}

func (f *tempFiles) Download(ctx context.Context, url, key string) (string, error) {
	f.downloads = append(f.downloads, url)
	return f.Write(ctx, key, []byte("downloaded:"+url))
}

type recordingPost struct {
	crops      []int
	watermarks []string
}

func (p *recordingPost) CropQuadrant(path string, q int) (string, error) {
	p.crops = append(p.crops, q)
	return strings.TrimSuffix(path, ".png") + fmt.Sprintf("_q%d.png", q), nil
}

func (p *recordingPost) Watermark(path, text string) error {
	p.watermarks = append(p.watermarks, text)
	return nil
}

type recordingSink struct {
	records []domain.GenerationRecord
}

func (s *recordingSink) AppendRecord(ctx context.Context, rec domain.GenerationRecord) error {
	s.records = append(s.records, rec)
	return nil
}

type recordingPublisher struct {
	texts  []string
	photos []string
	videos []string
	err    error
}

func (p *recordingPublisher) SendText(ctx context.Context, chatID, text string) error {
	p.texts = append(p.texts, text)
	return p.err
}

func (p *recordingPublisher) SendPhoto(ctx context.Context, chatID, path, caption string) error {
	p.photos = append(p.photos, path)
	return p.err
}

func (p *recordingPublisher) SendVideo(ctx context.Context, chatID, path, caption string) error {
	p.videos = append(p.videos, path)
	return p.err
}

type harness struct {
	gen   *stubGenerator
	prov  *stubProvider
	files *tempFiles
	post  *recordingPost
	sink  *recordingSink
	pub   *recordingPublisher
	clk   *clock.Fake
	deps  Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	tpl := "SYSTEM_PROMPT: You describe art.\nUSER_PROMPT: Today is {current_date}.\n"
	if err := os.WriteFile(filepath.Join(dir, "test_runner.txt"), []byte(tpl), 0o644); err != nil {
		t.Fatalf("write prompt: %v", err)
	}
	h := &harness{
		gen:   &stubGenerator{text: "a lighthouse in fog\n---\nnotes for the editor"},
		prov:  &stubProvider{name: "stub", results: []domain.AsyncJob{{Status: domain.JobStatusSucceeded, ResultData: []byte("png")}}},
		files: &tempFiles{dir: dir},
		post:  &recordingPost{},
		sink:  &recordingSink{},
		pub:   &recordingPublisher{},
		clk:   clock.NewFake(runStart),
	}
	h.deps = Deps{
		Generator:  h.gen,
		Providers:  map[string]artifact.Provider{"stub": h.prov},
		Files:      h.files,
		Post:       h.post,
		Sink:       h.sink,
		Publisher:  h.pub,
		ChatID:     "-100",
		PromptsDir: dir,
		Clock:      h.clk,
	}
	return h
}

func testDefinition() Definition {
	return withDefaults(Definition{
		Name:            "test",
		WatermarkLetter: "K",
		PromptFile:      "test_runner.txt",
		Temperature:     0.9,
		Steps:           []StepDefinition{photoStep("stub", artifact.Params{})},
		Hour:            8,
	})
}

func TestRunnerCompletesPhotoRun(t *testing.T) {
	h := newHarness(t)
	r, err := NewRunner(testDefinition(), h.deps)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	wantStages := []Stage{StageIdle, StagePromptGenerated, StageJobSubmitted, StageJobPolling, StageArtifactReady, StagePostProcessed, StagePersisted, StagePublished, StageDone}
	if fmt.Sprint(res.Stages) != fmt.Sprint(wantStages) {
		t.Fatalf("stages = %v, want %v", res.Stages, wantStages)
	}
	if got := h.gen.calls[0].UserInstruction; got != "Today is 07 March 2024." {
		t.Fatalf("user instruction = %q", got)
	}
	if h.prov.requests[0].Prompt != "a lighthouse in fog" {
		t.Fatalf("prompt = %q", h.prov.requests[0].Prompt)
	}
	if len(h.sink.records) != 1 {
		t.Fatalf("records = %d, want 1", len(h.sink.records))
	}
	rec := h.sink.records[0]
	if rec.GeneratedPrompt != "a lighthouse in fog" || rec.ArtifactLocation != res.ArtifactPath || rec.Runner != "test" {
		t.Fatalf("record = %+v", rec)
	}
	wantKey := filepath.FromSlash(storage.Key(storage.MediaPhoto, "test", runStart))
	if !strings.HasSuffix(res.ArtifactPath, wantKey) {
		t.Fatalf("artifact path = %q, want suffix %q", res.ArtifactPath, wantKey)
	}
	if len(h.post.watermarks) != 1 || h.post.watermarks[0] != "K 07.03.2024" {
		t.Fatalf("watermarks = %v", h.post.watermarks)
	}
	if len(h.post.crops) != 0 {
		t.Fatalf("unexpected crop: %v", h.post.crops)
	}
	if len(h.pub.photos) != 1 || h.pub.photos[0] != res.ArtifactPath {
		t.Fatalf("photos = %v", h.pub.photos)
	}
}

func TestRunnerCropsBeforeWatermark(t *testing.T) {
	h := newHarness(t)
	h.prov.results = []domain.AsyncJob{{Status: domain.JobStatusSucceeded, ResultURL: "https://cdn.example/grid.png"}}
	def := testDefinition()
	def.Steps[0].CropQuadrant = 1
	r, err := NewRunner(def, h.deps)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(h.files.downloads) != 1 || h.files.downloads[0] != "https://cdn.example/grid.png" {
		t.Fatalf("downloads = %v", h.files.downloads)
	}
	if len(h.post.crops) != 1 || h.post.crops[0] != 1 {
		t.Fatalf("crops = %v", h.post.crops)
	}
	if !strings.HasSuffix(res.ArtifactPath, "_q1.png") || h.pub.photos[0] != res.ArtifactPath {
		t.Fatalf("published %v, artifact %q", h.pub.photos, res.ArtifactPath)
	}
}

func TestRunnerChainsPreviousResultIntoVideoStep(t *testing.T) {
	h := newHarness(t)
	image := &stubProvider{name: "image", results: []domain.AsyncJob{{Status: domain.JobStatusSucceeded, ResultURL: "https://cdn.example/still.png"}}}
	video := &stubProvider{name: "video", results: []domain.AsyncJob{{Status: domain.JobStatusSucceeded, ResultURL: "https://cdn.example/clip.mp4"}}}
	h.deps.Providers = map[string]artifact.Provider{"image": image, "video": video}
	def := testDefinition()
	def.Steps = []StepDefinition{
		photoStep("image", artifact.Params{}),
		{Provider: "video", Kind: storage.MediaVideo, UsePreviousResult: true, PromptOverride: "gentle movement"},
	}
	r, err := NewRunner(def, h.deps)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if got := video.requests[0].Params.SourceURL; got != "https://cdn.example/still.png" {
		t.Fatalf("SourceURL = %q", got)
	}
	if video.requests[0].Prompt != "gentle movement" {
		t.Fatalf("video prompt = %q", video.requests[0].Prompt)
	}
	if len(h.files.downloads) != 1 || h.files.downloads[0] != "https://cdn.example/clip.mp4" {
		t.Fatalf("downloads = %v", h.files.downloads)
	}
	if len(h.pub.videos) != 1 || len(h.pub.photos) != 0 {
		t.Fatalf("videos = %v photos = %v", h.pub.videos, h.pub.photos)
	}
	if len(h.post.watermarks) != 0 {
		t.Fatalf("video must not be watermarked: %v", h.post.watermarks)
	}
	if !strings.HasSuffix(res.ArtifactPath, ".mp4") {
		t.Fatalf("artifact = %q", res.ArtifactPath)
	}
}

func TestRunnerRetriesFailedSubmission(t *testing.T) {
	h := newHarness(t)
	h.prov.submitErrs = []error{&domain.SubmissionError{Provider: "stub", Status: 500, Err: errors.New("queue full")}}
	def := testDefinition()
	def.RetryDelay = 5 * time.Minute
	r, err := NewRunner(def, h.deps)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(h.prov.requests) != 2 {
		t.Fatalf("submissions = %d, want 2", len(h.prov.requests))
	}
	sleeps := h.clk.Sleeps()
	if len(sleeps) != 1 || sleeps[0] != 5*time.Minute {
		t.Fatalf("sleeps = %v, want [5m]", sleeps)
	}
	if len(h.sink.records) != 1 {
		t.Fatalf("records = %d, want 1", len(h.sink.records))
	}
}

func TestRunnerFailsWhenJobKeepsFailing(t *testing.T) {
	h := newHarness(t)
	h.prov.results = []domain.AsyncJob{{Status: domain.JobStatusFailed, FailureReason: "nsfw"}}
	def := testDefinition()
	def.MaxRetries = 2
	r, err := NewRunner(def, h.deps)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	res, err := r.Run(context.Background())
	var failed *domain.TaskFailedError
	if !errors.As(err, &failed) || failed.Reason != "nsfw" {
		t.Fatalf("error = %v, want TaskFailedError(nsfw)", err)
	}
	if res.Stages[len(res.Stages)-1] != StageFailed {
		t.Fatalf("last stage = %s", res.Stages[len(res.Stages)-1])
	}
	if len(h.sink.records) != 0 || len(h.pub.photos) != 0 {
		t.Fatalf("side effects after failure: records=%d photos=%d", len(h.sink.records), len(h.pub.photos))
	}
}

func TestRunnerStopsOnOverloadedTextBackend(t *testing.T) {
	h := newHarness(t)
	h.gen.err = fmt.Errorf("gemini: %w after 3 attempts", domain.ErrUpstreamOverloaded)
	r, err := NewRunner(testDefinition(), h.deps)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	_, err = r.Run(context.Background())
	if !errors.Is(err, domain.ErrUpstreamOverloaded) {
		t.Fatalf("error = %v, want ErrUpstreamOverloaded", err)
	}
	if len(h.prov.requests) != 0 {
		t.Fatalf("provider called %d times", len(h.prov.requests))
	}
}

func TestRunnerKeepsRecordWhenPublishFails(t *testing.T) {
	h := newHarness(t)
	h.pub.err = errors.New("telegram: sendPhoto failed with status 400")
	r, err := NewRunner(testDefinition(), h.deps)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	res, err := r.Run(context.Background())
	if err == nil {
		t.Fatalf("expected publish error")
	}
	if len(h.sink.records) != 1 {
		t.Fatalf("records = %d, want 1", len(h.sink.records))
	}
	if _, statErr := os.Stat(h.sink.records[0].ArtifactLocation); statErr != nil {
		t.Fatalf("artifact removed: %v", statErr)
	}
	if res.Stages[len(res.Stages)-2] != StagePersisted {
		t.Fatalf("stages = %v", res.Stages)
	}
}

func TestRunnerRejectsEmptyPrompt(t *testing.T) {
	h := newHarness(t)
	h.gen.text = "---\nonly notes"
	r, err := NewRunner(testDefinition(), h.deps)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	if _, err := r.Run(context.Background()); err == nil {
		t.Fatalf("expected error for empty prompt")
	}
}

func TestNewRunnerRequiresConfiguredProvider(t *testing.T) {
	h := newHarness(t)
	h.deps.Providers = map[string]artifact.Provider{}
	if _, err := NewRunner(testDefinition(), h.deps); err == nil {
		t.Fatalf("expected error for missing provider")
	}
}
