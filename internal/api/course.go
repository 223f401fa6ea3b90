package api

import (
	"fmt"
	"net/http"

	"github.com/ashureev/fincoach/internal/domain"
	"github.com/ashureev/fincoach/internal/reconcile"
)

// HandleListCourses handles GET /chat/courses.
func (h *Handler) HandleListCourses(w http.ResponseWriter, _ *http.Request) {
	Success(w, h.Courses.Courses())
}

type courseStartRequest struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	CourseID  string `json:"courseId"`
}

// HandleCourseStart handles POST /chat/course/start.
func (h *Handler) HandleCourseStart(w http.ResponseWriter, r *http.Request) {
	var req courseStartRequest
	if err := h.decode(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	if req.CourseID == "" {
		WriteError(w, r, fmt.Errorf("%w: courseId is required", domain.ErrInvalidInput))
		return
	}
	sess, err := h.loadSession(r, req.SessionID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	res, err := h.Courses.StartCourse(r.Context(), req.UserID, sess.SessionID, req.CourseID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.mirror(sess, reconcile.WindowLearn, func(win *reconcile.WindowState) error {
		win.ShowCoursePage(res.Page)
		return nil
	})
	Success(w, res)
}

type navigateRequest struct {
	SessionID string `json:"sessionId"`
	PageIndex *int   `json:"pageIndex"`
}

// HandleCourseNavigate handles POST /chat/course/navigate.
func (h *Handler) HandleCourseNavigate(w http.ResponseWriter, r *http.Request) {
	var req navigateRequest
	if err := h.decode(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	if req.PageIndex == nil {
		WriteError(w, r, fmt.Errorf("%w: pageIndex is required", domain.ErrInvalidInput))
		return
	}
	sess, err := h.loadSession(r, req.SessionID)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	h.mirror(sess, reconcile.WindowLearn, func(win *reconcile.WindowState) error {
		win.SetLoading(reconcile.ArtifactCoursePage, true)
		return nil
	})
	page, err := h.Courses.NavigateToPage(r.Context(), sess.SessionID, *req.PageIndex)
	h.mirror(sess, reconcile.WindowLearn, func(win *reconcile.WindowState) error {
		win.SetLoading(reconcile.ArtifactCoursePage, false)
		if err == nil {
			win.ShowCoursePage(*page)
		}
		return nil
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	Success(w, page)
}

// HandlePageQuiz handles POST /chat/course/page-quiz.
func (h *Handler) HandlePageQuiz(w http.ResponseWriter, r *http.Request) {
	var req optionRequest
	if err := h.decode(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	option, err := req.option()
	if err != nil {
		WriteError(w, r, err)
		return
	}
	sess, err := h.loadSession(r, req.SessionID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	res, err := h.Courses.AnswerPageQuiz(r.Context(), sess.SessionID, option)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.mirror(sess, reconcile.WindowLearn, func(win *reconcile.WindowState) error {
		systemMessage(win, res.Summary)
		return nil
	})
	Success(w, res)
}

// HandleGetCourseQuiz handles GET /chat/course/quiz and shows the closing
// quiz of the active course.
func (h *Handler) HandleGetCourseQuiz(w http.ResponseWriter, r *http.Request) {
	sess, err := h.loadSession(r, r.URL.Query().Get("sessionId"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	c, err := h.Courses.ActiveCourse(r.Context(), sess.SessionID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.mirror(sess, reconcile.WindowLearn, func(win *reconcile.WindowState) error {
		win.ShowCourseQuiz(c.ID, c.QuizQuestions)
		return nil
	})
	Success(w, reconcile.CourseQuiz{CourseID: c.ID, Questions: c.QuizQuestions})
}

type courseQuizRequest struct {
	SessionID string `json:"sessionId"`
	Answers   []int  `json:"answers"`
}

// HandleSubmitCourseQuiz handles POST /chat/course/quiz.
func (h *Handler) HandleSubmitCourseQuiz(w http.ResponseWriter, r *http.Request) {
	var req courseQuizRequest
	if err := h.decode(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	if req.Answers == nil {
		WriteError(w, r, fmt.Errorf("%w: answers is required", domain.ErrInvalidInput))
		return
	}
	sess, err := h.loadSession(r, req.SessionID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	res, err := h.Courses.SubmitCourseQuiz(r.Context(), sess.SessionID, req.Answers)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.mirror(sess, reconcile.WindowLearn, func(win *reconcile.WindowState) error {
		win.CloseCurrentDisplays()
		outcome := "Keep practicing and try again."
		if res.Passed {
			outcome = "You passed the course!"
		}
		systemMessage(win, fmt.Sprintf("Course quiz score: %d%%. %s", res.Score, outcome))
		return nil
	})
	Success(w, res)
}

// HandleCourseEnd handles POST /chat/course/end.
func (h *Handler) HandleCourseEnd(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := h.decode(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	sess, err := h.loadSession(r, req.SessionID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	cs, err := h.Courses.EndCourseSession(r.Context(), sess.SessionID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.mirror(sess, reconcile.WindowLearn, func(win *reconcile.WindowState) error {
		win.CloseCurrentDisplays()
		return nil
	})
	Success(w, cs)
}

// HandleProgress handles GET /chat/course/progress.
func (h *Handler) HandleProgress(w http.ResponseWriter, r *http.Request) {
	userID, _, err := resolveIDs(r, r.URL.Query().Get("userId"), "")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	records, err := h.Courses.Progress(r.Context(), userID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if records == nil {
		records = []*domain.CourseProgress{}
	}
	Success(w, records)
}
