package catalog

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ashureev/fincoach/internal/domain"
)

// DefaultDiagnosticPassThreshold applies when the catalogue does not set one.
const DefaultDiagnosticPassThreshold = 60

// QuizBank holds the diagnostic pool and the micro-quiz buckets. It is
// read-only after construction and safe for concurrent use.
type QuizBank struct {
	diagnostic domain.DiagnosticTest
	buckets    map[domain.Topic][]domain.QuizQuestion
	topics     []domain.Topic
	byID       map[string]domain.QuizQuestion

	mu  sync.Mutex
	rng *rand.Rand
}

// BankOption configures a QuizBank.
type BankOption func(*QuizBank)

// WithRandSource replaces the random source used to pick micro-quizzes.
func WithRandSource(src rand.Source) BankOption {
	return func(b *QuizBank) {
		if src != nil {
			b.rng = rand.New(src)
		}
	}
}

// NewQuizBank validates and indexes the given questions. Question ids must be
// unique across the diagnostic pool and the micro-quiz buckets.
func NewQuizBank(diagnostic domain.DiagnosticTest, micro []domain.QuizQuestion, opts ...BankOption) (*QuizBank, error) {
	if len(diagnostic.Questions) == 0 {
		return nil, fmt.Errorf("%w: diagnostic pool is empty", domain.ErrInvalidInput)
	}
	if diagnostic.PassingScoreThreshold < 0 || diagnostic.PassingScoreThreshold > 100 {
		return nil, fmt.Errorf("%w: diagnostic threshold %d out of range", domain.ErrInvalidInput, diagnostic.PassingScoreThreshold)
	}

	seed := uint64(time.Now().UnixNano())
	b := &QuizBank{
		diagnostic: domain.DiagnosticTest{
			ID:                    diagnostic.ID,
			Questions:             append([]domain.QuizQuestion(nil), diagnostic.Questions...),
			PassingScoreThreshold: diagnostic.PassingScoreThreshold,
		},
		buckets: make(map[domain.Topic][]domain.QuizQuestion),
		byID:    make(map[string]domain.QuizQuestion),
		rng:     rand.New(rand.NewPCG(seed, seed>>1|1)),
	}
	for _, opt := range opts {
		opt(b)
	}

	for _, q := range b.diagnostic.Questions {
		if err := b.index(q); err != nil {
			return nil, err
		}
	}
	for _, q := range micro {
		if err := b.index(q); err != nil {
			return nil, err
		}
		if _, ok := b.buckets[q.Topic]; !ok {
			b.topics = append(b.topics, q.Topic)
		}
		b.buckets[q.Topic] = append(b.buckets[q.Topic], q)
	}
	return b, nil
}

func (b *QuizBank) index(q domain.QuizQuestion) error {
	if err := q.Validate(); err != nil {
		return err
	}
	if _, dup := b.byID[q.ID]; dup {
		return fmt.Errorf("%w: duplicate question id %s", domain.ErrInvalidInput, q.ID)
	}
	b.byID[q.ID] = q
	return nil
}

// DiagnosticTest returns the diagnostic assessment definition.
func (b *QuizBank) DiagnosticTest() domain.DiagnosticTest {
	t := b.diagnostic
	t.Questions = b.DiagnosticPool()
	return t
}

// DiagnosticPool returns the full fixed diagnostic pool in catalogue order.
func (b *QuizBank) DiagnosticPool() []domain.QuizQuestion {
	return append([]domain.QuizQuestion(nil), b.diagnostic.Questions...)
}

// MicroQuiz picks a question from the topic bucket. It reports false when the
// bucket is empty or unknown.
func (b *QuizBank) MicroQuiz(topic domain.Topic) (domain.QuizQuestion, bool) {
	bucket := b.buckets[topic]
	if len(bucket) == 0 {
		return domain.QuizQuestion{}, false
	}
	return bucket[b.intN(len(bucket))], true
}

// MicroQuizWithFallback tries preferred first, then every other non-empty
// topic starting from a random offset. An empty preferred topic means any.
func (b *QuizBank) MicroQuizWithFallback(preferred domain.Topic) (domain.QuizQuestion, bool) {
	if preferred != "" {
		if q, ok := b.MicroQuiz(preferred); ok {
			return q, true
		}
	}
	if len(b.topics) == 0 {
		return domain.QuizQuestion{}, false
	}
	start := b.intN(len(b.topics))
	for i := range b.topics {
		topic := b.topics[(start+i)%len(b.topics)]
		if topic == preferred {
			continue
		}
		if q, ok := b.MicroQuiz(topic); ok {
			return q, true
		}
	}
	return domain.QuizQuestion{}, false
}

// Question looks up a diagnostic or micro-quiz question by id.
func (b *QuizBank) Question(id string) (domain.QuizQuestion, bool) {
	q, ok := b.byID[id]
	return q, ok
}

// MicroPool returns a copy of the micro-quiz bucket for topic.
func (b *QuizBank) MicroPool(topic domain.Topic) []domain.QuizQuestion {
	return append([]domain.QuizQuestion(nil), b.buckets[topic]...)
}

// Topics lists the topics that have at least one micro-quiz, in catalogue order.
func (b *QuizBank) Topics() []domain.Topic {
	return append([]domain.Topic(nil), b.topics...)
}

func (b *QuizBank) intN(n int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rng.IntN(n)
}
