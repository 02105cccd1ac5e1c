package domain

import "time"

// GenerationRequest is the input of one text completion.
type GenerationRequest struct {
	SystemInstruction string
	UserInstruction   string
	Temperature       float64
	MaxOutputTokens   int
}

// GenerationRecord is appended once per successful run.
type GenerationRecord struct {
	ID                string    `json:"id" dynamodbav:"id"`
	Runner            string    `json:"runner" dynamodbav:"runner"`
	Timestamp         time.Time `json:"timestamp" dynamodbav:"timestamp"`
	SystemInstruction string    `json:"system_instruction" dynamodbav:"system_instruction"`
	UserInstruction   string    `json:"user_instruction" dynamodbav:"user_instruction"`
	GeneratedPrompt   string    `json:"generated_prompt" dynamodbav:"generated_prompt"`
	ArtifactLocation  string    `json:"artifact_location" dynamodbav:"artifact_location"`
}

// Date returns the record day in the layout the embedded store uses.
func (r GenerationRecord) Date() string {
	return r.Timestamp.Format("2006-01-02")
}
