package questions

import (
	_ "embed"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/mcoot/cryptoquiz-go/internal/model"
)

//go:embed default_bank.yaml
var defaultBank []byte

type bankFile struct {
	Questions []questionEntry `yaml:"questions"`
}

type questionEntry struct {
	Prompt  string   `yaml:"prompt"`
	Choices []string `yaml:"choices"`
	Answer  int      `yaml:"answer"`
}

// Service holds the question bank every session plays through
type Service struct {
	mu        sync.RWMutex
	questions []model.Question
}

// New creates a Service loaded with the built-in crypto bank
func New() *Service {
	s := &Service{}
	if err := s.LoadYAML(defaultBank); err != nil {
		panic(fmt.Sprintf("built-in question bank: %v", err))
	}
	return s
}

// LoadFromFile replaces the bank with the YAML file at path
func (s *Service) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return s.LoadYAML(data)
}

// LoadYAML replaces the bank with a YAML document
func (s *Service) LoadYAML(data []byte) error {
	var file bankFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse question bank: %w", err)
	}

	qs := make([]model.Question, len(file.Questions))
	for i, q := range file.Questions {
		qs[i] = model.Question{Prompt: q.Prompt, Choices: q.Choices, AnswerIndex: q.Answer}
	}
	return s.LoadQuestions(qs)
}

// LoadQuestions replaces the bank directly (useful for testing)
func (s *Service) LoadQuestions(qs []model.Question) error {
	if err := Validate(qs); err != nil {
		return err
	}

	loaded := make([]model.Question, len(qs))
	for i, q := range qs {
		loaded[i] = model.Question{
			Prompt:      q.Prompt,
			Choices:     append([]string(nil), q.Choices...),
			AnswerIndex: q.AnswerIndex,
		}
	}

	s.mu.Lock()
	s.questions = loaded
	s.mu.Unlock()
	return nil
}

// Validate checks a bank is playable
func Validate(qs []model.Question) error {
	if len(qs) == 0 {
		return model.ErrQuestionBankEmpty
	}
	for i, q := range qs {
		if q.Prompt == "" {
			return fmt.Errorf("question %d: empty prompt: %w", i, model.ErrInvalidQuestion)
		}
		if len(q.Choices) < 2 {
			return fmt.Errorf("question %d: need at least 2 choices: %w", i, model.ErrInvalidQuestion)
		}
		if !q.ValidChoice(q.AnswerIndex) {
			return fmt.Errorf("question %d: answer %d out of range: %w", i, q.AnswerIndex, model.ErrInvalidQuestion)
		}
	}
	return nil
}

// Len returns the number of questions
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.questions)
}

// Question returns the question at index
func (s *Service) Question(index int) (model.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if index < 0 || index >= len(s.questions) {
		return model.Question{}, model.ErrQuestionNotFound
	}
	q := s.questions[index]
	q.Choices = append([]string(nil), q.Choices...)
	return q, nil
}
