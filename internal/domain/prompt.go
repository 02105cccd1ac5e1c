package domain

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const (
	systemPromptMarker = "SYSTEM_PROMPT:"
	userPromptMarker   = "USER_PROMPT:"
	currentDateToken   = "{current_date}"
)

// PromptTemplate holds the system and user instructions a runner feeds to the text generator.
type PromptTemplate struct {
	System string
	User   string
}

// LoadPromptTemplate reads a prompt file from disk.
func LoadPromptTemplate(path string) (PromptTemplate, error) {
	f, err := os.Open(path)
	if err != nil {
		return PromptTemplate{}, fmt.Errorf("open prompt file: %w", err)
	}
	defer f.Close()
	return ParsePromptTemplate(f)
}

// ParsePromptTemplate parses "SYSTEM_PROMPT:" and "USER_PROMPT:" sections.
// A section runs until the next marker, so instructions may span several lines.
func ParsePromptTemplate(r io.Reader) (PromptTemplate, error) {
	var (
		tpl     PromptTemplate
		current *string
		system  []string
		user    []string
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, systemPromptMarker):
			system = append(system, strings.TrimSpace(strings.TrimPrefix(line, systemPromptMarker)))
			current = &tpl.System
		case strings.HasPrefix(line, userPromptMarker):
			user = append(user, strings.TrimSpace(strings.TrimPrefix(line, userPromptMarker)))
			current = &tpl.User
		case current == &tpl.System:
			system = append(system, line)
		case current == &tpl.User:
			user = append(user, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return PromptTemplate{}, fmt.Errorf("read prompt file: %w", err)
	}
	tpl.System = strings.TrimSpace(strings.Join(system, "\n"))
	tpl.User = strings.TrimSpace(strings.Join(user, "\n"))
	if tpl.User == "" {
		return PromptTemplate{}, fmt.Errorf("prompt file: %s section is missing", userPromptMarker)
	}
	return tpl, nil
}

// Render substitutes {current_date} in both sections with the given day.
func (t PromptTemplate) Render(now time.Time) PromptTemplate {
	date := now.Format("02 January 2006")
	return PromptTemplate{
		System: strings.ReplaceAll(t.System, currentDateToken, date),
		User:   strings.ReplaceAll(t.User, currentDateToken, date),
	}
}
