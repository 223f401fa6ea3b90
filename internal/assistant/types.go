// Package assistant produces the conversational replies of a chat turn.
//
// Replies stream as chunks. The production responder talks to a remote
// assistant service over gRPC; the offline responder serves canned
// educational replies when no service is configured.
package assistant

import (
	"context"
	"iter"

	"github.com/ashureev/fincoach/internal/domain"
)

// Request is one user message plus the context the assistant may use.
type Request struct {
	UserID    string
	SessionID string
	Message   string
	// Documents holds text the user uploaded for this session.
	Documents []string
	// CourseID is set when the learner is inside a course.
	CourseID string
}

// Chunk is a fragment of the streamed reply. Topic, when set, is the
// assistant's classification of the conversation and steers micro-quiz
// selection.
type Chunk struct {
	Content string
	Topic   domain.Topic
}

// Responder streams a reply for a request.
type Responder interface {
	Reply(ctx context.Context, req Request) iter.Seq2[*Chunk, error]
	Close()
}

var (
	_ Responder = (*GrpcResponder)(nil)
	_ Responder = (*OfflineResponder)(nil)
)
