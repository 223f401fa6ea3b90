package assistant

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/ashureev/fincoach/internal/domain"
)

// topicKeywords drives DetectTopic. Earlier entries win ties.
var topicKeywords = []struct {
	topic    domain.Topic
	keywords []string
}{
	{domain.TopicEmergencyFund, []string{"emergency", "rainy day", "safety net"}},
	{domain.TopicRetirement, []string{"retire", "401k", "401(k)", "ira", "pension"}},
	{domain.TopicCredit, []string{"credit score", "fico", "credit report", "utilization"}},
	{domain.TopicDebt, []string{"debt", "loan", "owe", "credit card", "interest rate"}},
	{domain.TopicInvesting, []string{"invest", "stock", "index fund", "etf", "portfolio", "bond"}},
	{domain.TopicTaxes, []string{"tax", "deduction", "irs", "refund"}},
	{domain.TopicInsurance, []string{"insurance", "premium", "deductible", "coverage"}},
	{domain.TopicSavings, []string{"save", "saving", "savings"}},
	{domain.TopicBudgeting, []string{"budget", "spend", "expense", "paycheck", "income"}},
}

// DetectTopic returns the best-matching topic for text, or "" when nothing
// matches.
func DetectTopic(text string) domain.Topic {
	lower := strings.ToLower(text)
	best, bestHits := domain.Topic(""), 0
	for _, tk := range topicKeywords {
		hits := 0
		for _, kw := range tk.keywords {
			hits += strings.Count(lower, kw)
		}
		if hits > bestHits {
			best, bestHits = tk.topic, hits
		}
	}
	return best
}

var offlineReplies = map[domain.Topic]string{
	domain.TopicBudgeting:     "A simple place to start is the 50/30/20 split: about half of take-home pay for needs, 30% for wants and 20% for savings or extra debt payments. Track one month of spending first so the numbers are real.",
	domain.TopicSavings:       "Automate it. A transfer to a separate high-yield savings account on payday makes saving the default instead of a monthly decision.",
	domain.TopicInvesting:     "For most long-term goals, broad low-cost index funds are a sensible core. Keep money you need within a year or two out of the stock market.",
	domain.TopicDebt:          "List every debt with its balance and interest rate. Pay minimums on all of them, then put every extra dollar on the highest rate first.",
	domain.TopicEmergencyFund: "Aim for a starter fund of around $1,000, then build toward three to six months of essential expenses in an insured, easy-to-reach savings account.",
	domain.TopicCredit:        "Payment history matters most, so set up autopay for at least the minimum. Keeping card balances well under 30% of the limit helps too.",
	domain.TopicRetirement:    "If your employer offers a match, contribute at least enough to get all of it. That match is an immediate return you will not find anywhere else.",
	domain.TopicInsurance:     "Insurance is for losses you could not absorb yourself. A higher deductible lowers premiums if your emergency fund can cover it.",
	domain.TopicTaxes:         "Tax-advantaged accounts such as a 401(k) or IRA are the easiest way for most people to lower their tax bill while saving for the future.",
}

const offlineDefaultReply = "I can help with budgeting, saving, debt, credit, investing, retirement, insurance and taxes. Tell me a little about your situation and what you want to work on."

// OfflineResponder answers from a fixed set of replies without any network
// calls. It streams word by word so clients exercise the same code path as
// with a live assistant.
type OfflineResponder struct{}

// NewOfflineResponder creates an offline responder.
func NewOfflineResponder() *OfflineResponder {
	return &OfflineResponder{}
}

// Close is a no-op.
func (*OfflineResponder) Close() {}

// Reply implements Responder.
func (*OfflineResponder) Reply(ctx context.Context, req Request) iter.Seq2[*Chunk, error] {
	return func(yield func(*Chunk, error) bool) {
		topic := DetectTopic(req.Message)
		reply, ok := offlineReplies[topic]
		if !ok {
			reply = offlineDefaultReply
		}
		if n := len(req.Documents); n > 0 {
			reply = fmt.Sprintf("I have %d document(s) you shared in this session to work from. %s", n, reply)
		}

		words := strings.SplitAfter(reply, " ")
		for i, w := range words {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			chunk := &Chunk{Content: w}
			if i == 0 {
				chunk.Topic = topic
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}
