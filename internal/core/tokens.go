package core

// TokenCounter estimates the token count of a piece of text. It is
// constructed once at startup and passed to the code that enforces budgets.
type TokenCounter interface {
	CountTokens(text string) int
}

// TokenCounterFunc adapts a function to TokenCounter.
type TokenCounterFunc func(text string) int

// CountTokens implements TokenCounter.
func (f TokenCounterFunc) CountTokens(text string) int { return f(text) }

// ApproxTokenCounter estimates one token per four bytes, rounding up.
var ApproxTokenCounter = TokenCounterFunc(func(text string) int {
	return (len(text) + 3) / 4
})

// EstimateInputTokens sums every message's token count plus the model's
// per-message prompt factor, then adds the completion factor once.
func EstimateInputTokens(counter TokenCounter, model Model, messages []Message) int {
	total := 0
	for _, m := range messages {
		total += counter.CountTokens(m.Text()) + model.TokensCountFactors.Prompt
	}
	return total + model.TokensCountFactors.Completion
}

// CheckInputTokens fails with InputTooLong when the estimate exceeds the
// model's MaxInputTokens. Models without a limit always pass, as does a nil
// counter.
func CheckInputTokens(counter TokenCounter, model Model, messages []Message) error {
	if counter == nil || model.MaxInputTokens <= 0 {
		return nil
	}
	total := EstimateInputTokens(counter, model, messages)
	if total > model.MaxInputTokens {
		return NewInputTooLongError(model.ID(), total, model.MaxInputTokens)
	}
	return nil
}
