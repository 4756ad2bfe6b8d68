package events

// ExceptionHandling tells a caller what to do with an unhandled processing failure.
type ExceptionHandling int

const (
    // ExceptionHandlingStop surfaces the failure so upstream retry applies.
    ExceptionHandlingStop ExceptionHandling = iota
    // ExceptionHandlingContinue swallows the failure and moves on.
    ExceptionHandlingContinue
)

func (h ExceptionHandling) String() string {
    switch h {
    case ExceptionHandlingContinue:
        return "Continue"
    default:
        return "Stop"
    }
}
