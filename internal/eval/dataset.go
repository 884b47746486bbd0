package eval

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// AnswerType is the outcome a question is expected to produce.
type AnswerType string

const (
	AnswerNormal  AnswerType = "normal"
	AnswerRefusal AnswerType = "refusal"
	AnswerError   AnswerType = "error"
)

// Expected describes what a good answer looks like.
type Expected struct {
	AnswerType     AnswerType `yaml:"answer_type" json:"answer_type"`
	AnswerContains []string   `yaml:"answer_contains" json:"answer_contains,omitempty"`
}

// Item is one evaluation question.
type Item struct {
	ID             string   `yaml:"id" json:"id"`
	Question       string   `yaml:"question" json:"question"`
	Context        string   `yaml:"context" json:"context,omitempty"`
	Category       string   `yaml:"category" json:"category"`
	Difficulty     string   `yaml:"difficulty" json:"difficulty"`
	Expected       Expected `yaml:"expected" json:"expected"`
	RequiresRecent bool     `yaml:"requires_recent" json:"requires_recent,omitempty"`
}

// Dataset is a named set of questions.
type Dataset struct {
	Name      string `yaml:"name"`
	Questions []Item `yaml:"questions"`
}

// LoadDataset reads a YAML dataset. Missing ids become q_1, q_2, ... and a
// missing answer_type means normal.
func LoadDataset(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseDataset(data)
}

func ParseDataset(data []byte) (*Dataset, error) {
	var ds Dataset
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("parse dataset: %w", err)
	}
	if len(ds.Questions) == 0 {
		return nil, errors.New("dataset has no questions")
	}
	seen := make(map[string]bool, len(ds.Questions))
	for i := range ds.Questions {
		it := &ds.Questions[i]
		it.Question = strings.TrimSpace(it.Question)
		if it.Question == "" {
			return nil, fmt.Errorf("question %d is empty", i+1)
		}
		if it.ID == "" {
			it.ID = fmt.Sprintf("q_%d", i+1)
		}
		if seen[it.ID] {
			return nil, fmt.Errorf("duplicate question id %q", it.ID)
		}
		seen[it.ID] = true
		switch it.Expected.AnswerType {
		case "":
			it.Expected.AnswerType = AnswerNormal
		case AnswerNormal, AnswerRefusal, AnswerError:
		default:
			return nil, fmt.Errorf("question %s: unknown answer_type %q", it.ID, it.Expected.AnswerType)
		}
		if it.Category == "" {
			it.Category = "unknown"
		}
		if it.Difficulty == "" {
			it.Difficulty = "unknown"
		}
	}
	return &ds, nil
}
