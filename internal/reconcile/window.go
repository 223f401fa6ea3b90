// Package reconcile mirrors session state into the two UI windows (chat and
// learn) and streams window snapshots to connected clients.
//
// Each window shows at most one artifact at a time: a micro-quiz, a
// diagnostic attempt, a course page or a course quiz. Every Show call closes
// whatever was visible first.
package reconcile

import (
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/fincoach/internal/domain"
)

// WindowKind names a window.
type WindowKind string

const (
	WindowChat  WindowKind = "chat"
	WindowLearn WindowKind = "learn"
)

// Valid reports whether k names a known window.
func (k WindowKind) Valid() bool {
	return k == WindowChat || k == WindowLearn
}

// Artifact is one of the displays a window can show.
type Artifact string

const (
	ArtifactQuiz       Artifact = "quiz"
	ArtifactDiagnostic Artifact = "diagnostic"
	ArtifactCoursePage Artifact = "coursePage"
	ArtifactCourseQuiz Artifact = "courseQuiz"
)

// Role of a chat message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ThinkingPlaceholder is the text of an assistant message awaiting its first chunk.
const ThinkingPlaceholder = "Thinking…"

var (
	ErrTurnExists  = errors.New("turn already started")
	ErrUnknownTurn = errors.New("unknown turn")
	ErrTurnClosed  = errors.New("turn already finished")
)

// Message is one entry in a window's transcript.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Streaming bool      `json:"streaming,omitempty"`
	Error     bool      `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// CourseQuiz is the closing quiz of a course as shown in a window.
type CourseQuiz struct {
	CourseID  string                `json:"courseId"`
	Questions []domain.QuizQuestion `json:"questions"`
}

// WindowState is the full display state of one window. It is not safe for
// concurrent use; the Hub serializes access.
type WindowState struct {
	Kind       WindowKind                `json:"kind"`
	Messages   []Message                 `json:"messages"`
	Quiz       *domain.QuizQuestion      `json:"quiz,omitempty"`
	Diagnostic *domain.DiagnosticAttempt `json:"diagnostic,omitempty"`
	CoursePage *domain.CoursePage        `json:"coursePage,omitempty"`
	CourseQuiz *CourseQuiz               `json:"courseQuiz,omitempty"`
	Loading    map[Artifact]bool         `json:"loading"`

	// turns maps an in-flight assistant turn to its message index.
	turns map[string]int
	now   func() time.Time
}

// NewWindow is the single constructor for both windows.
func NewWindow(kind WindowKind) *WindowState {
	return &WindowState{
		Kind:     kind,
		Messages: []Message{},
		Loading: map[Artifact]bool{
			ArtifactQuiz:       false,
			ArtifactDiagnostic: false,
			ArtifactCoursePage: false,
			ArtifactCourseQuiz: false,
		},
		turns: make(map[string]int),
		now:   time.Now,
	}
}

// CloseCurrentDisplays hides every artifact.
func (w *WindowState) CloseCurrentDisplays() {
	w.Quiz = nil
	w.Diagnostic = nil
	w.CoursePage = nil
	w.CourseQuiz = nil
}

// Visible returns the artifact currently shown, or "" when none is.
func (w *WindowState) Visible() Artifact {
	switch {
	case w.Quiz != nil:
		return ArtifactQuiz
	case w.Diagnostic != nil:
		return ArtifactDiagnostic
	case w.CoursePage != nil:
		return ArtifactCoursePage
	case w.CourseQuiz != nil:
		return ArtifactCourseQuiz
	default:
		return ""
	}
}

// ShowQuiz displays a micro-quiz.
func (w *WindowState) ShowQuiz(q domain.QuizQuestion) {
	w.CloseCurrentDisplays()
	w.Quiz = &q
	w.Loading[ArtifactQuiz] = false
}

// ShowDiagnostic displays a diagnostic attempt.
func (w *WindowState) ShowDiagnostic(a *domain.DiagnosticAttempt) {
	w.CloseCurrentDisplays()
	if a != nil {
		w.Diagnostic = a.Clone()
	}
	w.Loading[ArtifactDiagnostic] = false
}

// ShowCoursePage displays a course page.
func (w *WindowState) ShowCoursePage(p domain.CoursePage) {
	w.CloseCurrentDisplays()
	w.CoursePage = &p
	w.Loading[ArtifactCoursePage] = false
}

// ShowCourseQuiz displays a course's closing quiz.
func (w *WindowState) ShowCourseQuiz(courseID string, questions []domain.QuizQuestion) {
	w.CloseCurrentDisplays()
	w.CourseQuiz = &CourseQuiz{
		CourseID:  courseID,
		Questions: append([]domain.QuizQuestion(nil), questions...),
	}
	w.Loading[ArtifactCourseQuiz] = false
}

// SetLoading flags an artifact as being generated.
func (w *WindowState) SetLoading(a Artifact, loading bool) {
	w.Loading[a] = loading
}

// AppendMessage adds a finished message.
func (w *WindowState) AppendMessage(id string, role Role, content string) {
	w.Messages = append(w.Messages, Message{ID: id, Role: role, Content: content, CreatedAt: w.now()})
}

// BeginAssistantTurn inserts the placeholder message for turnID.
func (w *WindowState) BeginAssistantTurn(turnID string) error {
	if _, ok := w.turns[turnID]; ok {
		return fmt.Errorf("%w: %s", ErrTurnExists, turnID)
	}
	w.Messages = append(w.Messages, Message{
		ID:        turnID,
		Role:      RoleAssistant,
		Content:   ThinkingPlaceholder,
		Streaming: true,
		CreatedAt: w.now(),
	})
	w.turns[turnID] = len(w.Messages) - 1
	return nil
}

// ApplyChunk appends text to the turn's message. The first chunk replaces
// the placeholder. Chunks must be applied in arrival order.
func (w *WindowState) ApplyChunk(turnID, text string) error {
	m, err := w.turn(turnID)
	if err != nil {
		return err
	}
	if m.Content == ThinkingPlaceholder {
		m.Content = ""
	}
	m.Content += text
	return nil
}

// FinishTurn marks the turn complete. A turn that received no chunks keeps
// an empty message rather than the placeholder.
func (w *WindowState) FinishTurn(turnID string) error {
	m, err := w.turn(turnID)
	if err != nil {
		return err
	}
	if m.Content == ThinkingPlaceholder {
		m.Content = ""
	}
	m.Streaming = false
	delete(w.turns, turnID)
	return nil
}

// FailTurn replaces the turn's message wholesale with a system error message.
// Any partial content is discarded.
func (w *WindowState) FailTurn(turnID, reason string) error {
	m, err := w.turn(turnID)
	if err != nil {
		return err
	}
	*m = Message{
		ID:        turnID,
		Role:      RoleSystem,
		Content:   reason,
		Error:     true,
		CreatedAt: w.now(),
	}
	delete(w.turns, turnID)
	return nil
}

func (w *WindowState) turn(turnID string) (*Message, error) {
	idx, ok := w.turns[turnID]
	if !ok {
		for _, m := range w.Messages {
			if m.ID == turnID {
				return nil, fmt.Errorf("%w: %s", ErrTurnClosed, turnID)
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownTurn, turnID)
	}
	return &w.Messages[idx], nil
}

// Snapshot returns a deep copy suitable for serialization.
func (w *WindowState) Snapshot() *WindowState {
	c := &WindowState{
		Kind:     w.Kind,
		Messages: append([]Message{}, w.Messages...),
		Loading:  make(map[Artifact]bool, len(w.Loading)),
	}
	for k, v := range w.Loading {
		c.Loading[k] = v
	}
	if w.Quiz != nil {
		q := *w.Quiz
		c.Quiz = &q
	}
	if w.Diagnostic != nil {
		c.Diagnostic = w.Diagnostic.Clone()
	}
	if w.CoursePage != nil {
		p := *w.CoursePage
		c.CoursePage = &p
	}
	if w.CourseQuiz != nil {
		c.CourseQuiz = &CourseQuiz{
			CourseID:  w.CourseQuiz.CourseID,
			Questions: append([]domain.QuizQuestion(nil), w.CourseQuiz.Questions...),
		}
	}
	return c
}
