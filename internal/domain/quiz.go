package domain

import (
	"fmt"
	"math"
)

// Topic tags a question or course with a financial-literacy area.
type Topic string

const (
	TopicBudgeting     Topic = "budgeting"
	TopicSavings       Topic = "savings"
	TopicInvesting     Topic = "investing"
	TopicDebt          Topic = "debt"
	TopicEmergencyFund Topic = "emergency-fund"
	TopicCredit        Topic = "credit"
	TopicRetirement    Topic = "retirement"
	TopicInsurance     Topic = "insurance"
	TopicTaxes         Topic = "taxes"
)

// AllTopics lists every known topic in display order.
var AllTopics = []Topic{
	TopicBudgeting, TopicSavings, TopicInvesting, TopicDebt, TopicEmergencyFund,
	TopicCredit, TopicRetirement, TopicInsurance, TopicTaxes,
}

// Valid reports whether t is a known topic.
func (t Topic) Valid() bool {
	for _, k := range AllTopics {
		if t == k {
			return true
		}
	}
	return false
}

// Difficulty grades a single question.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// OptionsPerQuestion is the fixed number of answer options.
const OptionsPerQuestion = 4

// Unanswered marks an answer slot that has not been filled in yet.
const Unanswered = -1

// QuizQuestion is an immutable catalogue question.
type QuizQuestion struct {
	ID                 string     `json:"id" yaml:"id"`
	Prompt             string     `json:"prompt" yaml:"prompt"`
	Options            []string   `json:"options" yaml:"options"`
	CorrectOptionIndex int        `json:"correctOptionIndex" yaml:"correctOptionIndex"`
	Explanation        string     `json:"explanation" yaml:"explanation"`
	Topic              Topic      `json:"topicTag" yaml:"topicTag"`
	Difficulty         Difficulty `json:"difficulty" yaml:"difficulty"`
}

// Validate checks the structural invariants of a question.
func (q QuizQuestion) Validate() error {
	if q.ID == "" {
		return fmt.Errorf("%w: question id is required", ErrInvalidInput)
	}
	if len(q.Options) != OptionsPerQuestion {
		return fmt.Errorf("%w: question %s has %d options, want %d", ErrInvalidInput, q.ID, len(q.Options), OptionsPerQuestion)
	}
	if q.CorrectOptionIndex < 0 || q.CorrectOptionIndex >= OptionsPerQuestion {
		return fmt.Errorf("%w: question %s correct option %d out of range", ErrInvalidInput, q.ID, q.CorrectOptionIndex)
	}
	return nil
}

// IsCorrect reports whether option is the right answer.
func (q QuizQuestion) IsCorrect(option int) bool {
	return option == q.CorrectOptionIndex
}

// ValidOption reports whether option addresses one of the question's options.
func ValidOption(option int) bool {
	return option >= 0 && option < OptionsPerQuestion
}

// DiagnosticTest is the question set served for a diagnostic assessment.
type DiagnosticTest struct {
	ID                    string         `json:"id"`
	Questions             []QuizQuestion `json:"questions"`
	PassingScoreThreshold int            `json:"passingScoreThreshold"`
}

// Percent returns round(100*correct/total). Total must be positive.
func Percent(correct, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(correct) / float64(total)))
}

// QuizResult is the graded outcome of a multi-question quiz.
type QuizResult struct {
	Score          int      `json:"score"`
	Passed         bool     `json:"passed"`
	CorrectCount   int      `json:"correctCount"`
	Total          int      `json:"total"`
	CorrectAnswers []int    `json:"correctAnswers"`
	Explanations   []string `json:"explanations"`
}

// Grade scores answers against questions. len(answers) must equal len(questions).
func Grade(questions []QuizQuestion, answers []int, threshold int) QuizResult {
	res := QuizResult{
		Total:          len(questions),
		CorrectAnswers: make([]int, len(questions)),
		Explanations:   make([]string, len(questions)),
	}
	for i, q := range questions {
		res.CorrectAnswers[i] = q.CorrectOptionIndex
		res.Explanations[i] = q.Explanation
		if i < len(answers) && q.IsCorrect(answers[i]) {
			res.CorrectCount++
		}
	}
	res.Score = Percent(res.CorrectCount, res.Total)
	res.Passed = res.Score >= threshold
	return res
}
