package autoscaledpool

import "errors"

// ErrNotAFuture is the programmer-error fault raised when a
// RunTaskFunction or a running Task panics instead of returning a
// value/error pair. Panics in the predicate functions are not recovered.
var ErrNotAFuture = errors.New("autoscaledpool: task or predicate function violated its async contract")
