package domain

import "time"

// Level is the difficulty band of a course.
type Level string

const (
	LevelBeginner     Level = "beginner"
	LevelIntermediate Level = "intermediate"
	LevelAdvanced     Level = "advanced"
)

// DefaultCoursePassThreshold applies when a course does not set its own.
const DefaultCoursePassThreshold = 70

// Course is an immutable multi-page catalogue course.
type Course struct {
	ID               string         `json:"id"`
	Title            string         `json:"title"`
	Description      string         `json:"description,omitempty"`
	Level            Level          `json:"difficulty"`
	Topic            Topic          `json:"topicTag"`
	Pages            []CoursePage   `json:"pages"`
	QuizQuestions    []QuizQuestion `json:"quizQuestions"`
	Prerequisites    []string       `json:"prerequisites,omitempty"`
	PassingThreshold int            `json:"passingThreshold"`
}

// Page returns the page at index and whether it exists.
func (c *Course) Page(index int) (CoursePage, bool) {
	if index < 0 || index >= len(c.Pages) {
		return CoursePage{}, false
	}
	return c.Pages[index], true
}

// CourseSummary is the listing view of a course.
type CourseSummary struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Level      Level  `json:"difficulty"`
	Topic      Topic  `json:"topicTag"`
	TotalPages int    `json:"totalPages"`
}

// Summary returns the listing view.
func (c *Course) Summary() CourseSummary {
	return CourseSummary{
		ID:         c.ID,
		Title:      c.Title,
		Level:      c.Level,
		Topic:      c.Topic,
		TotalPages: len(c.Pages),
	}
}

// CoursePage is one page of course content.
type CoursePage struct {
	ID         string        `json:"id"`
	Title      string        `json:"title"`
	Content    string        `json:"content"`
	PageNumber int           `json:"pageNumber"`
	TotalPages int           `json:"totalPages"`
	Quiz       *QuizQuestion `json:"quiz,omitempty"`
}

// HasQuiz reports whether the page gates forward navigation on a quiz.
func (p CoursePage) HasQuiz() bool {
	return p.Quiz != nil
}

// CourseProgress is the durable per-user, per-course learning record.
type CourseProgress struct {
	UserID           string     `json:"userId"`
	CourseID         string     `json:"courseId"`
	CurrentPageIndex int        `json:"currentPageIndex"`
	Completed        bool       `json:"completed"`
	QuizAttempts     int        `json:"quizAttempts"`
	QuizScore        *int       `json:"quizScore,omitempty"`
	StartedAt        time.Time  `json:"startedAt"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Advance raises the high-water mark; it never lowers it.
func (p *CourseProgress) Advance(pageIndex int) {
	if pageIndex > p.CurrentPageIndex {
		p.CurrentPageIndex = pageIndex
	}
}

// RecordQuiz stores the latest attempt. The score is overwritten on every
// attempt; completion is only ever set, never cleared.
func (p *CourseProgress) RecordQuiz(score int, passed bool, now time.Time) {
	p.QuizAttempts++
	p.QuizScore = &score
	if passed && !p.Completed {
		p.Completed = true
		p.CompletedAt = &now
	}
	p.UpdatedAt = now
}
