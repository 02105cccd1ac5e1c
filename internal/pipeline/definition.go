package pipeline

import (
	"fmt"
	"time"

	"dailystory/internal/providers/artifact"
	"dailystory/internal/providers/dalle"
	"dailystory/internal/providers/flux"
	"dailystory/internal/providers/geminiimage"
	"dailystory/internal/providers/kandinsky"
	"dailystory/internal/providers/midjourney"
	"dailystory/internal/providers/qwen"
	"dailystory/internal/providers/yandex"
	"dailystory/internal/storage"
)

// StepDefinition is one generation job inside a run.
type StepDefinition struct {
	Provider string
	Params   artifact.Params
	Kind     storage.MediaKind
	// CropQuadrant selects a cell of a 2x2 grid result; zero keeps the whole image.
	CropQuadrant int
	// UsePreviousResult feeds the previous step's result URL in as Params.SourceURL.
	UsePreviousResult bool
	// PromptOverride replaces the generated prompt for this step.
	PromptOverride string
	// CheckAvailability asks the provider to confirm its queue is open before submitting.
	CheckAvailability bool
}

// Definition describes one daily runner.
type Definition struct {
	Name            string
	FilePrefix      string
	WatermarkLetter string
	PromptFile      string
	Temperature     float64
	MaxOutputTokens int
	PromptSeparator string
	PromptMaxRunes  int
	Steps           []StepDefinition
	// Announce is sent as a text message before the artifact when set.
	Announce string

	MaxRetries          int
	RetryDelay          time.Duration
	WaitTimeout         time.Duration
	PollInterval        time.Duration
	AvailabilityTimeout time.Duration
	RunTimeout          time.Duration
	Hour                int
}

// FinalKind reports the media kind that gets persisted and published.
func (d Definition) FinalKind() storage.MediaKind {
	if len(d.Steps) == 0 {
		return storage.MediaPhoto
	}
	return d.Steps[len(d.Steps)-1].Kind
}

// Validate checks the structural rules a runner relies on.
func (d Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("pipeline: definition name is required")
	}
	if d.PromptFile == "" {
		return fmt.Errorf("pipeline: %s: prompt file is required", d.Name)
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("pipeline: %s: at least one step is required", d.Name)
	}
	if d.Hour < 0 || d.Hour > 23 {
		return fmt.Errorf("pipeline: %s: hour %d out of range", d.Name, d.Hour)
	}
	for i, s := range d.Steps {
		if s.Provider == "" {
			return fmt.Errorf("pipeline: %s: step %d has no provider", d.Name, i+1)
		}
		if s.CropQuadrant < 0 || s.CropQuadrant > 4 {
			return fmt.Errorf("pipeline: %s: step %d crop quadrant %d out of range", d.Name, i+1, s.CropQuadrant)
		}
		if s.UsePreviousResult && i == 0 {
			return fmt.Errorf("pipeline: %s: first step cannot use a previous result", d.Name)
		}
	}
	return nil
}

func photoStep(provider string, params artifact.Params) StepDefinition {
	return StepDefinition{Provider: provider, Params: params, Kind: storage.MediaPhoto}
}

func withDefaults(d Definition) Definition {
	if d.FilePrefix == "" {
		d.FilePrefix = d.Name
	}
	if d.MaxOutputTokens == 0 {
		d.MaxOutputTokens = 1024
	}
	if d.MaxRetries == 0 {
		d.MaxRetries = 3
	}
	if d.RetryDelay == 0 {
		d.RetryDelay = 5 * time.Minute
	}
	if d.WaitTimeout == 0 {
		d.WaitTimeout = 20 * time.Minute
	}
	if d.PollInterval == 0 {
		d.PollInterval = 10 * time.Second
	}
	if d.AvailabilityTimeout == 0 {
		d.AvailabilityTimeout = 10 * time.Minute
	}
	return d
}

// DefaultDefinitions returns the built-in daily schedule, one runner per hour
// from 08:00.
func DefaultDefinitions() []Definition {
	defs := []Definition{
		{
			Name:            kandinsky.Name,
			WatermarkLetter: "K",
			PromptFile:      "kandinsky_runner.txt",
			Temperature:     1.0,
			PromptMaxRunes:  1000,
			Steps: []StepDefinition{{
				Provider:          kandinsky.Name,
				Kind:              storage.MediaPhoto,
				Params:            artifact.Params{Width: 1344, Height: 768},
				CheckAvailability: true,
			}},
			Hour: 8,
		},
		{
			Name:            midjourney.Name,
			WatermarkLetter: "M",
			PromptFile:      "midjourney_runner.txt",
			Temperature:     1.0,
			Steps: []StepDefinition{{
				Provider:     midjourney.Name,
				Kind:         storage.MediaPhoto,
				Params:       artifact.Params{TaskType: midjourney.TaskTextToImage, AspectRatio: "9:16"},
				CropQuadrant: 1,
			}},
			PollInterval: 15 * time.Second,
			Hour:         9,
		},
		{
			Name:            dalle.Name,
			WatermarkLetter: "D",
			PromptFile:      "dalle_runner.txt",
			Temperature:     1.0,
			PromptMaxRunes:  4000,
			Steps:           []StepDefinition{photoStep(dalle.Name, artifact.Params{})},
			Hour:            10,
		},
		{
			Name:            flux.Name,
			WatermarkLetter: "F",
			PromptFile:      "flux_runner.txt",
			Temperature:     0.9,
			Steps:           []StepDefinition{photoStep(flux.Name, artifact.Params{AspectRatio: "9:16"})},
			PollInterval:    5 * time.Second,
			Hour:            11,
		},
		{
			Name:            yandex.Name,
			WatermarkLetter: "Y",
			PromptFile:      "yandex_runner.txt",
			Temperature:     0.9,
			Steps:           []StepDefinition{photoStep(yandex.Name, artifact.Params{AspectRatio: "2:1"})},
			Hour:            12,
		},
		{
			Name:            geminiimage.Name,
			WatermarkLetter: "G",
			PromptFile:      "gemini_image_runner.txt",
			Temperature:     1.0,
			Steps:           []StepDefinition{photoStep(geminiimage.Name, artifact.Params{})},
			Hour:            13,
		},
		{
			Name:        "midjourney_video",
			PromptFile:  "midjourney_video_runner.txt",
			Temperature: 1.0,
			Steps: []StepDefinition{
				{
					Provider: midjourney.Name,
					Kind:     storage.MediaPhoto,
					Params:   artifact.Params{TaskType: midjourney.TaskTextToImage, AspectRatio: "16:9", Output: midjourney.OutputSingle},
				},
				{
					Provider:          midjourney.Name,
					Kind:              storage.MediaVideo,
					Params:            artifact.Params{TaskType: midjourney.TaskImageToVideo, Motion: "high", BatchSize: 1},
					UsePreviousResult: true,
					PromptOverride:    "gentle movement, cinematic camera motion",
				},
			},
			PollInterval: 15 * time.Second,
			WaitTimeout:  30 * time.Minute,
			Hour:         14,
		},
		{
			Name:            qwen.Name,
			WatermarkLetter: "Q",
			PromptFile:      "qwen_runner.txt",
			Temperature:     0.7,
			Steps: []StepDefinition{{
				Provider:          qwen.Name,
				Kind:              storage.MediaPhoto,
				Params:            artifact.Params{AspectRatio: "16:9", NegativePrompt: "blurry, low quality, distorted"},
				CheckAvailability: true,
			}},
			PollInterval: 5 * time.Second,
			Hour:         15,
		},
	}
	for i := range defs {
		defs[i] = withDefaults(defs[i])
	}
	return defs
}

// Lookup finds a definition by runner name.
func Lookup(defs []Definition, name string) (Definition, bool) {
	for _, d := range defs {
		if d.Name == name {
			return d, true
		}
	}
	return Definition{}, false
}
