package diagnostic

import "github.com/ashureev/fincoach/internal/domain"

// Score bands for course recommendation.
const (
	AdvancedScore     = 80
	IntermediateScore = 50
)

// levelOrder returns the course levels to recommend for score, best fit first.
func levelOrder(score int) []domain.Level {
	switch {
	case score >= AdvancedScore:
		return []domain.Level{domain.LevelAdvanced, domain.LevelIntermediate}
	case score >= IntermediateScore:
		return []domain.Level{domain.LevelIntermediate, domain.LevelBeginner, domain.LevelAdvanced}
	default:
		return []domain.Level{domain.LevelBeginner, domain.LevelIntermediate}
	}
}

// Recommend orders courses for a diagnostic score. When courseType is set,
// courses with that topic are preferred; if none of them fit the score band
// the unbiased list is returned. Within a level, input order is kept. The
// result depends only on the arguments.
func Recommend(courses []*domain.Course, score int, courseType domain.Topic) []*domain.Course {
	if courseType != "" {
		var biased []*domain.Course
		for _, c := range courses {
			if c.Topic == courseType {
				biased = append(biased, c)
			}
		}
		if out := orderByLevel(biased, score); len(out) > 0 {
			return out
		}
	}
	return orderByLevel(courses, score)
}

func orderByLevel(courses []*domain.Course, score int) []*domain.Course {
	var out []*domain.Course
	for _, level := range levelOrder(score) {
		for _, c := range courses {
			if c.Level == level {
				out = append(out, c)
			}
		}
	}
	return out
}
