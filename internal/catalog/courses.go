package catalog

import (
	"fmt"

	"github.com/ashureev/fincoach/internal/domain"
)

// Courses is the read-only course catalogue. Iteration order is the order in
// which courses were supplied.
type Courses struct {
	ordered []*domain.Course
	byID    map[string]*domain.Course
}

// NewCourses validates and normalizes courses. Page numbers, totals and
// missing page/question ids are filled in; a zero passing threshold is
// replaced by defaultThreshold.
func NewCourses(courses []domain.Course, defaultThreshold int) (*Courses, error) {
	if defaultThreshold <= 0 {
		defaultThreshold = domain.DefaultCoursePassThreshold
	}
	c := &Courses{byID: make(map[string]*domain.Course, len(courses))}

	for i := range courses {
		course := normalizeCourse(courses[i], defaultThreshold)
		if course.ID == "" {
			return nil, fmt.Errorf("%w: course %d has no id", domain.ErrInvalidInput, i)
		}
		if _, dup := c.byID[course.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate course id %s", domain.ErrInvalidInput, course.ID)
		}
		if len(course.Pages) == 0 {
			return nil, fmt.Errorf("%w: course %s has no pages", domain.ErrInvalidInput, course.ID)
		}
		for _, p := range course.Pages {
			if p.Quiz != nil {
				if err := p.Quiz.Validate(); err != nil {
					return nil, fmt.Errorf("course %s page %d: %w", course.ID, p.PageNumber, err)
				}
			}
		}
		for _, q := range course.QuizQuestions {
			if err := q.Validate(); err != nil {
				return nil, fmt.Errorf("course %s: %w", course.ID, err)
			}
		}
		c.byID[course.ID] = course
		c.ordered = append(c.ordered, course)
	}

	for _, course := range c.ordered {
		for _, pre := range course.Prerequisites {
			if _, ok := c.byID[pre]; !ok {
				return nil, fmt.Errorf("%w: course %s requires unknown course %s", domain.ErrInvalidInput, course.ID, pre)
			}
		}
	}
	return c, nil
}

func normalizeCourse(in domain.Course, defaultThreshold int) *domain.Course {
	course := in
	if course.PassingThreshold == 0 {
		course.PassingThreshold = defaultThreshold
	}

	course.Pages = make([]domain.CoursePage, len(in.Pages))
	for i, p := range in.Pages {
		p.PageNumber = i + 1
		p.TotalPages = len(in.Pages)
		if p.ID == "" {
			p.ID = fmt.Sprintf("%s-p%d", course.ID, i+1)
		}
		if p.Quiz != nil {
			q := *p.Quiz
			if q.ID == "" {
				q.ID = p.ID + "-quiz"
			}
			p.Quiz = &q
		}
		course.Pages[i] = p
	}

	course.QuizQuestions = make([]domain.QuizQuestion, len(in.QuizQuestions))
	for i, q := range in.QuizQuestions {
		if q.ID == "" {
			q.ID = fmt.Sprintf("%s-q%d", course.ID, i+1)
		}
		course.QuizQuestions[i] = q
	}
	course.Prerequisites = append([]string(nil), in.Prerequisites...)
	return &course
}

// Get returns the course with id. The returned value must not be modified.
func (c *Courses) Get(id string) (*domain.Course, bool) {
	course, ok := c.byID[id]
	return course, ok
}

// All returns every course in catalogue order.
func (c *Courses) All() []*domain.Course {
	return append([]*domain.Course(nil), c.ordered...)
}

// Summaries returns the listing view of every course.
func (c *Courses) Summaries() []domain.CourseSummary {
	out := make([]domain.CourseSummary, len(c.ordered))
	for i, course := range c.ordered {
		out[i] = course.Summary()
	}
	return out
}

// MissingPrerequisites returns the prerequisites of courseID that are not in
// completed, in declaration order.
func (c *Courses) MissingPrerequisites(courseID string, completed map[string]bool) []string {
	course, ok := c.byID[courseID]
	if !ok {
		return nil
	}
	var missing []string
	for _, pre := range course.Prerequisites {
		if !completed[pre] {
			missing = append(missing, pre)
		}
	}
	return missing
}
